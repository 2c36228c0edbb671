// Package compute is the boundary to the remote raster compute service:
// export submission, status polling and source image counting.
package compute

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-geoexport/internal/catalog"
	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/process"
)

// ErrRejected marks submissions the service refused outright. Retrying them
// cannot succeed.
var ErrRejected = errors.New("request rejected by compute service")

// Service is implemented by every compute backend.
type Service interface {
	Submit(ctx context.Context, req Request) (string, error)
	PollStatus(ctx context.Context, remoteID string) (Status, error)
	ProbeFeatureCount(ctx context.Context, f matrix.Filter) (int64, error)
}

// Status is one poll result.
type Status struct {
	State   process.State
	Message string
}

// ImageDescription is the declarative image a job asks the service to build.
// It is passed to the backend unmodified.
type ImageDescription struct {
	Dataset    string
	Start      time.Time
	End        time.Time
	Region     matrix.Region
	Formula    catalog.Formula
	Bands      []catalog.BandRef
	Expression string
	Variables  map[string]string
	// OutputBand names the single band of the exported image.
	OutputBand string

	CloudCoverMax *float64
	ScaleFactor   float64
	Offset        float64
}

// ExportParams controls where and how the image is written. A non-empty
// Bucket selects a Cloud Storage export with Folder as the key prefix;
// otherwise the image goes to the Drive folder named Folder.
//
// RequestID is fixed when the request is built, so resubmitting the same
// request does not start a second export.
type ExportParams struct {
	RequestID   string
	Description string
	Bucket      string
	Folder      string
	FilePrefix  string
	CRS         string
	Scale       float64
	MaxPixels   int64
}

// Request is one export submission.
type Request struct {
	Image  ImageDescription
	Export ExportParams
}

// Defaults are the export settings shared by every job of a batch.
type Defaults struct {
	Bucket    string
	Folder    string
	CRS       string
	MaxPixels int64
}

// maxDescriptionLen is the service limit on task descriptions.
const maxDescriptionLen = 100

// NewRequest builds the export request for a job.
func NewRequest(job matrix.Job, d Defaults) Request {
	tpl := job.Template
	desc := job.Indicator + "_" + job.Region.Slug() + "_" + job.Window.Label()
	if len(desc) > maxDescriptionLen {
		desc = desc[:maxDescriptionLen]
	}
	return Request{
		Image: ImageDescription{
			Dataset:       tpl.Dataset,
			Start:         job.Window.Start,
			End:           job.Window.End,
			Region:        job.Region,
			Formula:       tpl.Formula,
			Bands:         tpl.Bands,
			Expression:    tpl.Expression,
			Variables:     tpl.Variables,
			OutputBand:    job.Indicator,
			CloudCoverMax: tpl.CloudCoverMax,
			ScaleFactor:   tpl.ScaleFactor,
			Offset:        tpl.Offset,
		},
		Export: ExportParams{
			RequestID:   uuid.NewString(),
			Description: desc,
			Bucket:      d.Bucket,
			Folder:      d.Folder,
			FilePrefix:  job.OutputName,
			CRS:         d.CRS,
			Scale:       tpl.Scale,
			MaxPixels:   d.MaxPixels,
		},
	}
}
