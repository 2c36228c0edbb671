// Package objstore is the boundary to the remote object store holding
// exported artifacts.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned when an artifact id does not exist.
var ErrNotFound = errors.New("artifact not found")

// Artifact is a read-only view of one remote file. Size is -1 when the store
// does not report it.
type Artifact struct {
	Name string
	ID   string
	Size int64
}

// Store lists, downloads and deletes artifacts. Implementations must be safe
// for concurrent use.
type Store interface {
	List(ctx context.Context, container string) ([]Artifact, error)
	Download(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

const (
	BackendDrive  = "drive"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend         string
	CredentialsFile string
	S3              S3Options
}

// Open builds the configured backend.
func Open(ctx context.Context, o Options) (Store, error) {
	switch o.Backend {
	case BackendDrive, "":
		return NewDrive(ctx, o.CredentialsFile)
	case BackendS3:
		return NewS3(ctx, o.S3)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", o.Backend)
	}
}
