package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tendant/simple-geoexport/internal/objstore"
)

// writeVerified streams an artifact into a temporary file next to path,
// checks the byte count against the listed size and the file on disk, then
// renames it into place. Nothing is left at path on failure.
func writeVerified(ctx context.Context, store objstore.Store, a objstore.Artifact, path string) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}

	rc, err := store.Download(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, rc)
	if err != nil {
		return 0, fmt.Errorf("copy artifact to disk: %w", err)
	}
	if a.Size >= 0 && n != a.Size {
		return 0, fmt.Errorf("short transfer: wrote %d of %d bytes", n, a.Size)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	info, err := os.Stat(tmpName)
	if err != nil {
		return 0, fmt.Errorf("stat temp file: %w", err)
	}
	if info.Size() != n {
		return 0, fmt.Errorf("size on disk %d differs from %d bytes transferred", info.Size(), n)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return n, fsyncDir(dir)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
