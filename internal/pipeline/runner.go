// Package pipeline runs one batch end to end: plan the job matrix, submit
// and track the remote exports, reconcile their artifacts and report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	slogctx "github.com/veqryn/slog-context"

	"github.com/tendant/simple-geoexport/internal/bus"
	"github.com/tendant/simple-geoexport/internal/compute"
	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/objstore"
	"github.com/tendant/simple-geoexport/internal/process"
	"github.com/tendant/simple-geoexport/internal/reconcile"
	"github.com/tendant/simple-geoexport/internal/report"
	"github.com/tendant/simple-geoexport/internal/tracker"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

// ErrComputeUnreachable aborts a run in which every probe or every
// submission failed.
var ErrComputeUnreachable = errors.New("compute service unreachable")

const notReconciled = report.NotDownloaded + ": batch cancelled"

// Batch is one requested matrix.
type Batch struct {
	Regions    []matrix.Region
	Windows    []matrix.Window
	Indicators []string
	// Dest is the local directory artifacts are written to.
	Dest string
}

// Events receives task changes and the batch summary.
type Events interface {
	tracker.EventSink
	BatchDone(ctx context.Context, done schema.BatchDone) error
}

// Runner wires the collaborators of a batch. Store and Compute are owned by
// the caller.
type Runner struct {
	Catalog   matrix.Resolver
	Compute   compute.Service
	Store     objstore.Store
	Tracker   tracker.Options
	Reconcile reconcile.Options
	// Events is optional.
	Events       Events
	ProbeRetries uint64
	OnProgress   func(tracker.Progress)
}

// Plan expands a batch into jobs, probing the compute service for empty
// windows.
func (r *Runner) Plan(ctx context.Context, b Batch) (matrix.Plan, error) {
	g := &matrix.Generator{Resolver: r.Catalog, ProbeRetries: r.ProbeRetries}
	if r.Compute != nil {
		g.Prober = r.Compute
	}
	plan, err := g.Generate(ctx, b.Regions, b.Windows, b.Indicators)
	if err != nil {
		return plan, err
	}
	if n := plan.ProbeFailures(); n > 0 && len(plan.Jobs) == 0 && !anyEmpty(plan) {
		return plan, fmt.Errorf("%w: all %d source probes failed", ErrComputeUnreachable, n)
	}
	return plan, nil
}

func anyEmpty(p matrix.Plan) bool {
	for _, s := range p.Skipped {
		if s.Kind == schema.OutcomeSkippedEmpty {
			return true
		}
	}
	return false
}

// Run executes a batch. Per-job failures end up in the report; the returned
// error is non-nil only when the run was aborted.
func (r *Runner) Run(ctx context.Context, b Batch) (report.Report, error) {
	start := time.Now()
	id := uuid.NewString()
	ctx = bus.WithBatchID(ctx, id)
	ctx = slogctx.With(ctx, "batch_id", id)
	logger := slogctx.FromCtx(ctx)

	plan, err := r.Plan(ctx, b)
	if err != nil {
		r.abort(ctx, id, start, err)
		return report.Report{}, err
	}
	logger.Info("batch planned", "jobs", len(plan.Jobs), "skipped", len(plan.Skipped))

	var sink tracker.EventSink
	if r.Events != nil {
		sink = r.Events
	}
	tr := tracker.New(r.Compute, r.Tracker, sink)

	tasks := tr.SubmitAll(ctx, plan.Jobs)
	if ctx.Err() == nil && allSubmissionsFailed(tasks) {
		err := fmt.Errorf("%w: all %d submissions failed", ErrComputeUnreachable, len(tasks))
		r.abort(ctx, id, start, err)
		return report.Build(plan, tracker.Results(tasks), reconcile.Report{}), err
	}
	results := tr.AwaitAll(ctx, tasks, r.OnProgress)

	if ctx.Err() != nil {
		logger.Warn("batch cancelled, exported artifacts stay remote until the next sweep")
		rep := report.Build(plan, results, reconcile.Report{})
		for i, e := range rep.Entries {
			if e.Kind == schema.OutcomeNotReconciled {
				rep.Entries[i].Message = notReconciled
			}
		}
		r.finish(ctx, id, start, rep)
		return rep, nil
	}

	rec, err := reconcile.New(r.Store, r.Reconcile).Reconcile(ctx, results, b.Dest)
	if err != nil {
		err = fmt.Errorf("reconcile: %w", err)
		r.abort(ctx, id, start, err)
		return report.Build(plan, results, reconcile.Report{}), err
	}

	rep := report.Build(plan, results, rec)
	r.finish(ctx, id, start, rep)
	return rep, nil
}

// Sweep treats every planned job as succeeded and reconciles it, recovering
// artifacts left remote by an interrupted run. Without execute it only lists
// the matches.
func (r *Runner) Sweep(ctx context.Context, b Batch, execute bool) (reconcile.Report, error) {
	plan, err := (&matrix.Generator{Resolver: r.Catalog}).Generate(ctx, b.Regions, b.Windows, b.Indicators)
	if err != nil {
		return reconcile.Report{}, err
	}
	results := make([]tracker.Result, len(plan.Jobs))
	for i, j := range plan.Jobs {
		results[i] = tracker.Result{Job: j, State: process.StateSucceeded, Kind: schema.OutcomeSucceeded}
	}

	rc := reconcile.New(r.Store, r.Reconcile)
	if !execute {
		return rc.Assign(ctx, results)
	}
	return rc.Reconcile(ctx, results, b.Dest)
}

func allSubmissionsFailed(tasks []*process.Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if t.Kind != schema.OutcomeSubmissionFailed {
			return false
		}
	}
	return true
}

func (r *Runner) finish(ctx context.Context, id string, start time.Time, rep report.Report) {
	status := rep.Status()
	BatchesTotal.WithLabelValues(status).Inc()
	BatchDurationHistogram.Observe(time.Since(start).Seconds())
	for _, e := range rep.Entries {
		JobsTotal.WithLabelValues(string(e.Kind)).Inc()
	}
	c := rep.Counts()
	slogctx.FromCtx(ctx).Info("batch finished", "status", status, "jobs", c.Total,
		"succeeded", c.Succeeded, "skipped", c.Skipped, "failed", c.Failed,
		"duration", time.Since(start).Round(time.Millisecond))
	r.publish(ctx, rep.ToSchema(id, time.Since(start)))
}

func (r *Runner) abort(ctx context.Context, id string, start time.Time, err error) {
	BatchesTotal.WithLabelValues(report.StatusFailed).Inc()
	slogctx.FromCtx(ctx).Error("batch aborted", "err", err)
	r.publish(ctx, schema.BatchDone{
		ID:               id,
		Status:           report.StatusFailed,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Error:            err.Error(),
		HappenedAt:       time.Now().Unix(),
	})
}

func (r *Runner) publish(ctx context.Context, done schema.BatchDone) {
	if r.Events == nil {
		return
	}
	_ = r.Events.BatchDone(ctx, done)
}
