package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Drive reads artifacts from a Google Drive folder. The container passed to
// List is the folder id.
type Drive struct {
	svc *drive.Service
}

// NewDrive authenticates with a service account or authorized user file.
// An empty path uses application default credentials.
func NewDrive(ctx context.Context, credentialsFile string) (*Drive, error) {
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return &Drive{svc: svc}, nil
}

// FindFolder returns the id of the first non-trashed folder called name.
func (d *Drive) FindFolder(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("mimeType='%s' and name='%s' and trashed=false", folderMimeType, quote(name))
	res, err := d.svc.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find drive folder %s: %w", name, err)
	}
	if len(res.Files) == 0 {
		return "", fmt.Errorf("drive folder %s: %w", name, ErrNotFound)
	}
	return res.Files[0].Id, nil
}

func (d *Drive) List(ctx context.Context, folderID string) ([]Artifact, error) {
	var out []Artifact
	q := fmt.Sprintf("'%s' in parents and trashed=false", quote(folderID))
	err := d.svc.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name, size)").
		PageSize(1000).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				size := f.Size
				if size == 0 {
					size = -1
				}
				out = append(out, Artifact{Name: f.Name, ID: f.Id, Size: size})
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("list drive folder %s: %w", folderID, err)
	}
	return out, nil
}

func (d *Drive) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := d.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", id, notFound(err))
	}
	return resp.Body, nil
}

func (d *Drive) Delete(ctx context.Context, id string) error {
	if err := d.svc.Files.Delete(id).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete %s: %w", id, notFound(err))
	}
	return nil
}

func (d *Drive) Close() error { return nil }

func notFound(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// quote escapes a value for a Drive query string literal.
func quote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
