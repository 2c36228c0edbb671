package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	slogctx "github.com/veqryn/slog-context"

	"github.com/tendant/simple-geoexport/internal/catalog"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

var (
	ErrUnresolvedIndicator = errors.New("no configured source for indicator and year")
	ErrEmptySourceData     = errors.New("no source images for window")
)

// Resolver maps a year and indicator to a template.
type Resolver interface {
	Resolve(year int, indicator string) (catalog.Template, bool)
}

// Prober counts the source images matching a filter.
type Prober interface {
	ProbeFeatureCount(ctx context.Context, f Filter) (int64, error)
}

// Skip is a triple that produced no job.
type Skip struct {
	Region    Region
	Window    Window
	Indicator string
	Kind      schema.OutcomeKind
	Err       error
}

// Key identifies the skipped triple the same way Job.Key does.
func (s Skip) Key() string { return key(s.Region, s.Window, s.Indicator) }

// OutputName is the name the job would have exported under.
func (s Skip) OutputName() string { return OutputName(s.Indicator, s.Region, s.Window) }

// Plan is the ordered output of Generate.
type Plan struct {
	Jobs    []Job
	Skipped []Skip
}

// ProbeFailures counts skips caused by probe transport errors.
func (p Plan) ProbeFailures() int {
	n := 0
	for _, s := range p.Skipped {
		if s.Kind == schema.OutcomeProbeFailed {
			n++
		}
	}
	return n
}

// Generator builds a Plan. A nil Prober disables the emptiness probe.
type Generator struct {
	Resolver Resolver
	Prober   Prober

	// ProbeRetries is the number of extra attempts after a failed probe.
	ProbeRetries uint64
	// ProbeBackoff is the first delay between probe attempts. Defaults to 1s.
	ProbeBackoff time.Duration
}

// Generate emits jobs with regions outer, windows middle and indicators inner.
// Unresolved and empty triples go to Plan.Skipped and are never emitted as
// jobs. Probe results are cached for the duration of the call. The returned
// error is non-nil only for invalid input or a cancelled context.
func (g *Generator) Generate(ctx context.Context, regions []Region, windows []Window, indicators []string) (Plan, error) {
	if g.Resolver == nil {
		return Plan{}, errors.New("matrix: nil resolver")
	}
	seenRegion := make(map[string]bool, len(regions))
	for _, r := range regions {
		if err := r.validate(); err != nil {
			return Plan{}, err
		}
		if seenRegion[r.Slug()] {
			return Plan{}, fmt.Errorf("duplicate region %q", r.Name)
		}
		seenRegion[r.Slug()] = true
	}
	seenWindow := make(map[string]bool, len(windows))
	for _, w := range windows {
		if !w.End.After(w.Start) {
			return Plan{}, fmt.Errorf("window %s is empty", w.Start.Format(DateLayout))
		}
		if seenWindow[w.Label()] {
			return Plan{}, fmt.Errorf("duplicate window %s", w.Label())
		}
		seenWindow[w.Label()] = true
	}
	indicators = dedupe(indicators)

	logger := slogctx.FromCtx(ctx)
	var (
		plan     Plan
		logged   = make(map[string]bool)
		probed   = make(map[string]probeResult)
		resolved = make(map[string]resolution)
	)
	for _, region := range regions {
		for _, window := range windows {
			for _, ind := range indicators {
				skip := Skip{Region: region, Window: window, Indicator: ind}

				rkey := fmt.Sprintf("%d/%s", window.Year(), ind)
				res, ok := resolved[rkey]
				if !ok {
					res.tpl, res.ok = g.Resolver.Resolve(window.Year(), ind)
					resolved[rkey] = res
				}
				if !res.ok {
					if !logged[rkey] {
						logged[rkey] = true
						logger.Warn("skipping indicator: no source for year", "indicator", ind, "year", window.Year())
					}
					skip.Kind, skip.Err = schema.OutcomeSkippedUnresolved, ErrUnresolvedIndicator
					plan.Skipped = append(plan.Skipped, skip)
					continue
				}

				job := Job{
					Region:     region,
					Window:     window,
					Indicator:  ind,
					Template:   res.tpl,
					OutputName: OutputName(ind, region, window),
				}

				if g.Prober != nil {
					f := job.Filter()
					pr, ok := probed[f.cacheKey()]
					if !ok {
						pr.count, pr.err = g.probe(ctx, f)
						if ctxErr := ctx.Err(); ctxErr != nil {
							return plan, ctxErr
						}
						probed[f.cacheKey()] = pr
					}
					switch {
					case pr.err != nil:
						logger.Error("probe failed", "job", job.Key(), "dataset", f.Dataset, "err", pr.err)
						skip.Kind, skip.Err = schema.OutcomeProbeFailed, pr.err
						plan.Skipped = append(plan.Skipped, skip)
						continue
					case pr.count == 0:
						logger.Info("skipping job: no source images", "job", job.Key(), "dataset", f.Dataset)
						skip.Kind, skip.Err = schema.OutcomeSkippedEmpty, ErrEmptySourceData
						plan.Skipped = append(plan.Skipped, skip)
						continue
					}
				}

				plan.Jobs = append(plan.Jobs, job)
			}
		}
	}
	return plan, nil
}

type resolution struct {
	tpl catalog.Template
	ok  bool
}

type probeResult struct {
	count int64
	err   error
}

func (g *Generator) probe(ctx context.Context, f Filter) (int64, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.ProbeBackoff
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxElapsedTime = 0

	var count int64
	err := backoff.Retry(func() error {
		n, err := g.Prober.ProbeFeatureCount(ctx, f)
		if err != nil {
			return err
		}
		count = n
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(b, g.ProbeRetries), ctx))
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", f.Dataset, err)
	}
	return count, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
