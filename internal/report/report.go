// Package report assembles the per-job outcome table of a batch run.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/reconcile"
	"github.com/tendant/simple-geoexport/internal/tracker"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Entry is the terminal outcome of one matrix cell.
type Entry struct {
	Key        string
	Region     string
	Window     string
	Indicator  string
	OutputName string
	Kind       schema.OutcomeKind
	State      string
	RemoteID   string
	Message    string
	LocalPath  string
	Bytes      int64
}

// Report holds one entry per matrix cell: submitted jobs in matrix order,
// then skipped cells.
type Report struct {
	Entries []Entry
}

// Counts summarises a report.
type Counts struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
}

func entryFor(j matrix.Job) Entry {
	return Entry{
		Key:        j.Key(),
		Region:     j.Region.Name,
		Window:     j.Window.Label(),
		Indicator:  j.Indicator,
		OutputName: j.OutputName,
	}
}

// NotDownloaded is the message of a succeeded task that has no
// reconciliation outcome.
const NotDownloaded = "export finished but not downloaded"

// Build merges the plan skips, tracker results and reconciliation outcomes.
// A succeeded task takes the kind of its reconciliation outcome, or
// not_reconciled when rec has none for it.
func Build(plan matrix.Plan, results []tracker.Result, rec reconcile.Report) Report {
	entries := make([]Entry, 0, len(results)+len(plan.Skipped))
	for _, res := range results {
		e := entryFor(res.Job)
		e.Kind = res.Kind
		e.State = string(res.State)
		e.RemoteID = res.RemoteID
		e.Message = res.Message
		if o, ok := rec.Find(e.Key); ok {
			e.Kind = o.Kind
			e.LocalPath = o.LocalPath
			e.Bytes = o.Bytes
			if o.Err != nil {
				e.Message = o.Err.Error()
			}
		} else if e.Kind == schema.OutcomeSucceeded {
			e.Kind = schema.OutcomeNotReconciled
			if e.Message == "" {
				e.Message = NotDownloaded
			}
		}
		entries = append(entries, e)
	}
	for _, s := range plan.Skipped {
		entries = append(entries, Entry{
			Key:        s.Key(),
			Region:     s.Region.Name,
			Window:     s.Window.Label(),
			Indicator:  s.Indicator,
			OutputName: s.OutputName(),
			Kind:       s.Kind,
			Message:    s.Err.Error(),
		})
	}
	return Report{Entries: entries}
}

// FromReconcile reports a sweep, which has no tracker results.
func FromReconcile(rec reconcile.Report) Report {
	entries := make([]Entry, 0, len(rec.Outcomes))
	for _, o := range rec.Outcomes {
		e := entryFor(o.Job)
		e.Kind = o.Kind
		e.LocalPath = o.LocalPath
		e.Bytes = o.Bytes
		if o.Err != nil {
			e.Message = o.Err.Error()
		}
		entries = append(entries, e)
	}
	return Report{Entries: entries}
}

func (r Report) Counts() Counts {
	c := Counts{Total: len(r.Entries)}
	for _, e := range r.Entries {
		switch {
		case e.Kind == schema.OutcomeSucceeded:
			c.Succeeded++
		case e.Kind.Skipped():
			c.Skipped++
		default:
			c.Failed++
		}
	}
	return c
}

// Status is success when every entry succeeded or was skipped as unresolved
// or empty, partial otherwise.
func (r Report) Status() string {
	for _, e := range r.Entries {
		if !e.Kind.Clean() {
			return StatusPartial
		}
	}
	return StatusSuccess
}

// Render writes the report as a table followed by a summary line.
func (r Report) Render(w io.Writer) error {
	table := tablewriter.NewWriter(w)
	table.Header("Region", "Window", "Indicator", "Outcome", "Size", "Detail")
	for _, e := range r.Entries {
		size := ""
		if e.Bytes > 0 {
			size = humanize.Bytes(uint64(e.Bytes))
		}
		detail := e.Message
		if e.Kind == schema.OutcomeSucceeded {
			detail = e.LocalPath
		}
		if err := table.Append(e.Region, e.Window, e.Indicator, string(e.Kind), size, detail); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	c := r.Counts()
	_, err := fmt.Fprintf(w, "%s: %d jobs, %d succeeded, %d skipped, %d failed\n",
		r.Status(), c.Total, c.Succeeded, c.Skipped, c.Failed)
	return err
}

// ToSchema converts the report into the batch summary event.
func (r Report) ToSchema(id string, elapsed time.Duration) schema.BatchDone {
	c := r.Counts()
	results := make([]schema.JobResult, 0, len(r.Entries))
	for _, e := range r.Entries {
		results = append(results, schema.JobResult{
			JobKey:     e.Key,
			OutputName: e.OutputName,
			Kind:       e.Kind,
			State:      e.State,
			RemoteID:   e.RemoteID,
			LocalPath:  e.LocalPath,
			Bytes:      e.Bytes,
			Error:      e.Message,
		})
	}
	return schema.BatchDone{
		ID:               id,
		Status:           r.Status(),
		TotalJobs:        c.Total,
		TotalSucceeded:   c.Succeeded,
		TotalSkipped:     c.Skipped,
		TotalFailed:      c.Failed,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Results:          results,
		HappenedAt:       time.Now().Unix(),
	}
}
