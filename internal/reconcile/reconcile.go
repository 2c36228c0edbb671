// Package reconcile moves exported artifacts of succeeded jobs from the
// remote object store to local storage, exactly once per job.
//
// A remote artifact is deleted only after its bytes were written locally and
// the written size was verified. A crash between the write and the delete
// leaves a stray remote copy, which a later run picks up again.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/objstore"
	"github.com/tendant/simple-geoexport/internal/process"
	"github.com/tendant/simple-geoexport/internal/tracker"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

var (
	ErrMissingArtifact        = errors.New("no remote artifact matches the job output")
	ErrAmbiguousArtifactMatch = errors.New("more than one remote artifact matches the job output")
	ErrLocalWrite             = errors.New("local write failed")
	ErrPurge                  = errors.New("remote delete failed")
)

// Previewer renders a preview next to a downloaded artifact. An empty path
// with a nil error means the artifact has no preview.
type Previewer interface {
	Preview(ctx context.Context, path string) (string, error)
}

// Options configure a Reconciler. Container is the store area the compute
// service exports into. Previewer is optional; its failures are logged and
// otherwise ignored.
type Options struct {
	Container   string
	Concurrency int // 4
	Previewer   Previewer
}

// Outcome is the reconciliation result of one succeeded job.
type Outcome struct {
	Job        matrix.Job
	Kind       schema.OutcomeKind
	Artifact   *objstore.Artifact
	Candidates []objstore.Artifact
	LocalPath  string
	Preview    string
	Bytes      int64
	Err        error
}

// Report lists one outcome per succeeded input job, in input order.
type Report struct {
	Listed   int
	Outcomes []Outcome
}

// Find returns the outcome for a job key.
func (r Report) Find(key string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Job.Key() == key {
			return o, true
		}
	}
	return Outcome{}, false
}

// Reconciler owns one store handle. The caller closes the store.
type Reconciler struct {
	store objstore.Store
	opts  Options
}

func New(store objstore.Store, opts Options) *Reconciler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Reconciler{store: store, opts: opts}
}

// Reconcile lists the export container once, matches every succeeded job to
// its artifact, downloads it under dest and deletes the remote copy. Failed
// and cancelled jobs are ignored. Per-job problems are reported in the
// outcomes; the returned error is non-nil only when listing failed.
func (r *Reconciler) Reconcile(ctx context.Context, results []tracker.Result, dest string) (Report, error) {
	report, err := r.Assign(ctx, results)
	if err != nil {
		return report, err
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i := range report.Outcomes {
		o := &report.Outcomes[i]
		if o.Artifact == nil {
			continue
		}
		g.Go(func() error {
			r.transfer(ctx, o, dest)
			return nil
		})
	}
	_ = g.Wait()

	logger := slogctx.FromCtx(ctx)
	for _, o := range report.Outcomes {
		OutcomesTotal.WithLabelValues(string(o.Kind)).Inc()
		if o.Err != nil {
			logger.Warn("artifact not reconciled", "job", o.Job.Key(), "kind", o.Kind, "err", o.Err)
		}
	}
	return report, nil
}

// Assign lists the export container and matches succeeded jobs to artifacts
// without transferring anything. Matched outcomes carry the artifact and an
// empty Kind.
func (r *Reconciler) Assign(ctx context.Context, results []tracker.Result) (Report, error) {
	var jobs []matrix.Job
	for _, res := range results {
		if res.State == process.StateSucceeded {
			jobs = append(jobs, res.Job)
		}
	}
	if len(jobs) == 0 {
		return Report{Outcomes: []Outcome{}}, nil
	}

	artifacts, err := r.store.List(ctx, r.opts.Container)
	if err != nil {
		return Report{}, fmt.Errorf("list export container %q: %w", r.opts.Container, err)
	}
	ListedArtifactsGauge.Set(float64(len(artifacts)))
	slogctx.FromCtx(ctx).Info("listed export container", "container", r.opts.Container, "artifacts", len(artifacts))

	return Report{Listed: len(artifacts), Outcomes: assign(jobs, artifacts)}, nil
}

// assign matches jobs to artifacts in job order. An artifact claimed by an
// earlier job makes every later job that also matches it ambiguous.
func assign(jobs []matrix.Job, artifacts []objstore.Artifact) []Outcome {
	outcomes := make([]Outcome, len(jobs))
	claimed := make(map[string]bool)
	for i, job := range jobs {
		o := Outcome{Job: job}
		matches := Match(job, artifacts)
		taken := false
		for _, a := range matches {
			taken = taken || claimed[a.ID]
		}
		switch {
		case len(matches) == 0:
			o.Kind = schema.OutcomeMissingArtifact
			o.Err = fmt.Errorf("%w: %s", ErrMissingArtifact, job.OutputName)
		case len(matches) > 1 || taken:
			o.Kind = schema.OutcomeAmbiguousArtifact
			o.Candidates = matches
			o.Err = fmt.Errorf("%w: %s matches %s", ErrAmbiguousArtifactMatch, job.OutputName, names(matches))
		default:
			a := matches[0]
			o.Artifact = &a
		}
		for _, a := range matches {
			claimed[a.ID] = true
		}
		outcomes[i] = o
	}
	return outcomes
}

// Match returns the artifacts whose name starts with the job's indicator
// (case-insensitive) and contains its full output name.
func Match(job matrix.Job, artifacts []objstore.Artifact) []objstore.Artifact {
	token := strings.ToLower(job.Indicator)
	var out []objstore.Artifact
	for _, a := range artifacts {
		if strings.HasPrefix(strings.ToLower(a.Name), token) && strings.Contains(a.Name, job.OutputName) {
			out = append(out, a)
		}
	}
	return out
}

func names(as []objstore.Artifact) string {
	ns := make([]string, len(as))
	for i, a := range as {
		ns[i] = a.Name
	}
	return strings.Join(ns, ", ")
}

func (r *Reconciler) transfer(ctx context.Context, o *Outcome, dest string) {
	logger := slogctx.FromCtx(ctx).With("job", o.Job.Key(), "artifact", o.Artifact.Name)

	path, err := localPath(dest, o.Artifact.Name)
	if err == nil {
		o.Bytes, err = writeVerified(ctx, r.store, *o.Artifact, path)
	}
	if err != nil {
		o.Kind = schema.OutcomeLocalWriteFailed
		o.Bytes = 0
		o.Err = fmt.Errorf("%w: %s: %v", ErrLocalWrite, o.Artifact.Name, err)
		return
	}
	o.LocalPath = path
	BytesTotal.Add(float64(o.Bytes))
	logger.Info("artifact downloaded", "path", path, "bytes", o.Bytes)

	if r.opts.Previewer != nil {
		if p, err := r.opts.Previewer.Preview(ctx, path); err != nil {
			logger.Warn("preview failed", "err", err)
		} else {
			o.Preview = p
		}
	}

	if err := r.store.Delete(ctx, o.Artifact.ID); err != nil {
		o.Kind = schema.OutcomePurgeFailed
		o.Err = fmt.Errorf("%w: %s: %v", ErrPurge, o.Artifact.Name, err)
		return
	}
	o.Kind = schema.OutcomeSucceeded
	logger.Info("remote artifact deleted", "artifact_id", o.Artifact.ID)
}

// localPath places an artifact directly under dest.
func localPath(dest, name string) (string, error) {
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("unusable artifact name %q", name)
	}
	return filepath.Join(dest, base), nil
}
