// Package matrix expands regions, time windows and indicators into the
// ordered set of export jobs for one batch.
package matrix

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used in windows and output names.
const DateLayout = "2006-01-02"

// Region is an export area. It is either a set of TIGER state names, all
// states minus ExcludeStates, or a bounding box.
type Region struct {
	Name          string
	States        []string
	ExcludeStates []string
	// BBox is west, south, east, north in degrees.
	BBox *[4]float64
}

// StateRegion is a single US state looked up by its TIGER NAME.
func StateRegion(name string) Region {
	return Region{Name: name, States: []string{name}}
}

// CONUS is the contiguous United States.
func CONUS() Region {
	return Region{Name: "CONUS", ExcludeStates: []string{"Alaska", "Hawaii"}}
}

// BBoxRegion is a named rectangle.
func BBoxRegion(name string, west, south, east, north float64) Region {
	return Region{Name: name, BBox: &[4]float64{west, south, east, north}}
}

// Slug is the region token used in output names.
func (r Region) Slug() string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(r.Name)), " ", "_")
}

func (r Region) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("region name is empty")
	}
	if b := r.BBox; b != nil {
		if len(r.States) > 0 || len(r.ExcludeStates) > 0 {
			return fmt.Errorf("region %s: bbox cannot be combined with states", r.Name)
		}
		if b[0] >= b[2] || b[1] >= b[3] {
			return fmt.Errorf("region %s: bbox %v is empty", r.Name, *b)
		}
	}
	return nil
}

// Window is the half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns [start, end) or an error when it is empty.
func NewWindow(start, end time.Time) (Window, error) {
	w := Window{Start: start.UTC(), End: end.UTC()}
	if !w.End.After(w.Start) {
		return Window{}, fmt.Errorf("window %s to %s is empty", start.Format(DateLayout), end.Format(DateLayout))
	}
	return w, nil
}

// Monthly returns one window per calendar month from fromMonth to toMonth
// inclusive.
func Monthly(year, fromMonth, toMonth int) []Window {
	var out []Window
	for m := fromMonth; m <= toMonth; m++ {
		start := time.Date(year, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
		out = append(out, Window{Start: start, End: start.AddDate(0, 1, 0)})
	}
	return out
}

// Annual returns the window covering one calendar year.
func Annual(year int) Window {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return Window{Start: start, End: start.AddDate(1, 0, 0)}
}

// Year is the year used for indicator resolution.
func (w Window) Year() int { return w.Start.Year() }

// LastDay is the last calendar day inside the window.
func (w Window) LastDay() time.Time { return w.End.AddDate(0, 0, -1) }

// Label renders the window as YYYY-MM-DD_to_YYYY-MM-DD using the last
// included day.
func (w Window) Label() string {
	return w.Start.Format(DateLayout) + "_to_" + w.LastDay().Format(DateLayout)
}

func (w Window) String() string { return w.Label() }
