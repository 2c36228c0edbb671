// Package img renders small PNG previews of downloaded rasters.
package img

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/image/tiff"
)

// DefaultSize is the bounding box edge used when Quicklook.Size is zero.
const DefaultSize = 512

// Quicklook writes "<name>.quicklook.png" next to a raster. Formats without a
// decoder, which includes the float GeoTIFFs most indicators export, are
// skipped: Preview returns an empty path and no error for them.
type Quicklook struct {
	Size int
}

// Path returns where the preview for src is written.
func Path(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".quicklook.png"
}

// Preview renders the quicklook for src and returns its path.
func (q Quicklook) Preview(ctx context.Context, src string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	size := q.Size
	if size <= 0 {
		size = DefaultSize
	}
	ok, err := decodable(src)
	if err != nil {
		return "", err
	}
	if !ok {
		slogctx.FromCtx(ctx).Debug("no preview decoder for raster", "path", src)
		return "", nil
	}
	dst := Path(src)
	if _, _, err := GenerateThumbnail(src, dst, size, size); err != nil {
		return "", err
	}
	return dst, nil
}

// decodable reports whether a registered decoder accepts src. Damaged files
// of a known format are errors.
func decodable(src string) (bool, error) {
	f, err := os.Open(src)
	if err != nil {
		return false, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	_, _, err = image.DecodeConfig(f)
	var unsupported tiff.UnsupportedError
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, image.ErrFormat), errors.As(err, &unsupported):
		return false, nil
	default:
		return false, fmt.Errorf("decode header: %w", err)
	}
}

// GenerateThumbnail loads an image from srcPath, fits it into the given
// bounding box and writes it to dstPath. Smaller sources are not upscaled.
func GenerateThumbnail(srcPath, dstPath string, boxW, boxH int) (w int, h int, _ error) {
	src, err := imaging.Open(srcPath, imaging.AutoOrientation(true))
	if err != nil {
		return 0, 0, fmt.Errorf("open: %w", err)
	}

	thumb := imaging.Fit(src, boxW, boxH, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return 0, 0, fmt.Errorf("mkdir: %w", err)
	}

	if err := imaging.Save(thumb, dstPath); err != nil {
		return 0, 0, fmt.Errorf("save: %w", err)
	}

	b := thumb.Bounds()
	return b.Dx(), b.Dy(), nil
}
