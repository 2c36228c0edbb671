package matrix

import (
	"fmt"
	"strings"
	"time"

	"github.com/tendant/simple-geoexport/internal/catalog"
)

// Job is one fully resolved (region, window, indicator) unit of work.
type Job struct {
	Region     Region
	Window     Window
	Indicator  string
	Template   catalog.Template
	OutputName string
}

// Key identifies the job within a batch.
func (j Job) Key() string { return key(j.Region, j.Window, j.Indicator) }

func key(r Region, w Window, indicator string) string {
	return r.Slug() + "/" + w.Label() + "/" + indicator
}

// OutputName is the export file prefix for a job:
// <indicator>_<region>_<start>_to_<last day>, lower-cased indicator.
func OutputName(indicator string, r Region, w Window) string {
	return fmt.Sprintf("%s_%s_%s", strings.ToLower(indicator), r.Slug(), w.Label())
}

// Filter describes the source images a job would read. The compute service
// counts them to decide whether the job would produce an empty image.
type Filter struct {
	Dataset       string
	Start         time.Time
	End           time.Time
	Region        Region
	CloudCoverMax *float64
}

// Filter returns the emptiness probe filter for the job.
func (j Job) Filter() Filter {
	return Filter{
		Dataset:       j.Template.Dataset,
		Start:         j.Window.Start,
		End:           j.Window.End,
		Region:        j.Region,
		CloudCoverMax: j.Template.CloudCoverMax,
	}
}

func (f Filter) cacheKey() string {
	cloud := "-"
	if f.CloudCoverMax != nil {
		cloud = fmt.Sprint(*f.CloudCoverMax)
	}
	return strings.Join([]string{
		f.Dataset,
		f.Start.Format(DateLayout),
		f.End.Format(DateLayout),
		f.Region.Slug(),
		cloud,
	}, "|")
}
