package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-geoexport/internal/catalog"
	"github.com/tendant/simple-geoexport/internal/compute"
	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/process"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

type pollFunc func(n int) (compute.Status, error)

// scriptedService answers polls per remote id from a script keyed by the
// job's output name.
type scriptedService struct {
	mu        sync.Mutex
	scripts   map[string]pollFunc
	polls     map[string]int
	submitErr func(attempt int, req compute.Request) error
	attempts  map[string]int
}

func newScripted(scripts map[string]pollFunc) *scriptedService {
	return &scriptedService{scripts: scripts, polls: map[string]int{}, attempts: map[string]int{}}
}

func (s *scriptedService) Submit(_ context.Context, req compute.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[req.Export.FilePrefix]++
	if s.submitErr != nil {
		if err := s.submitErr(s.attempts[req.Export.FilePrefix], req); err != nil {
			return "", err
		}
	}
	return req.Export.FilePrefix, nil
}

func (s *scriptedService) PollStatus(_ context.Context, id string) (compute.Status, error) {
	s.mu.Lock()
	s.polls[id]++
	n := s.polls[id]
	script := s.scripts[id]
	s.mu.Unlock()
	if script == nil {
		return compute.Status{State: process.StateRunning}, nil
	}
	return script(n)
}

func (s *scriptedService) ProbeFeatureCount(context.Context, matrix.Filter) (int64, error) {
	return 1, nil
}

func (s *scriptedService) pollCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls[id]
}

type recordingSink struct {
	mu     sync.Mutex
	events []process.State
}

func (r *recordingSink) TaskChanged(_ context.Context, t *process.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t.State)
}

func jobs(indicators ...string) []matrix.Job {
	r := matrix.StateRegion("Nevada")
	w := matrix.Annual(2020)
	var out []matrix.Job
	for _, ind := range indicators {
		out = append(out, matrix.Job{
			Region: r, Window: w, Indicator: ind,
			Template:   catalog.Template{Indicator: ind, Dataset: "MODIS/061/MOD13Q1", Scale: 250, Formula: catalog.Mean},
			OutputName: matrix.OutputName(ind, r, w),
		})
	}
	return out
}

func fastOptions() Options {
	return Options{
		PollInterval:  time.Millisecond,
		MaxInterval:   5 * time.Millisecond,
		MaxPollErrors: 5,
		SubmitRate:    1000,
		SubmitRetries: 3,
		SubmitBackoff: time.Millisecond,
	}
}

func TestAwaitAllEmpty(t *testing.T) {
	tr := New(newScripted(nil), fastOptions(), nil)
	called := false
	results := tr.AwaitAll(context.Background(), nil, func(Progress) { called = true })
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.False(t, called)
}

func TestAwaitAllMixedOutcomes(t *testing.T) {
	js := jobs("A", "B", "C")
	svc := newScripted(map[string]pollFunc{
		js[0].OutputName: func(n int) (compute.Status, error) {
			if n < 2 {
				return compute.Status{State: process.StateRunning}, nil
			}
			return compute.Status{State: process.StateSucceeded}, nil
		},
		js[1].OutputName: func(int) (compute.Status, error) {
			return compute.Status{State: process.StateFailed, Message: "quota exceeded"}, nil
		},
		js[2].OutputName: func(int) (compute.Status, error) {
			return compute.Status{}, errors.New("503 backend unavailable")
		},
	})
	sink := &recordingSink{}
	tr := New(svc, fastOptions(), sink)
	ctx := context.Background()

	tasks := tr.SubmitAll(ctx, js)
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		require.Equal(t, process.StatePending, task.State)
	}

	var rounds []Progress
	results := tr.AwaitAll(ctx, tasks, func(p Progress) { rounds = append(rounds, p) })
	require.Len(t, results, 3)

	a, b, c := results[0], results[1], results[2]
	assert.Equal(t, process.StateSucceeded, a.State)
	assert.Equal(t, schema.OutcomeSucceeded, a.Kind)
	assert.Equal(t, 2, a.Polls)
	assert.NoError(t, a.Err())

	assert.Equal(t, process.StateFailed, b.State)
	assert.Equal(t, schema.OutcomeRemoteFailed, b.Kind)
	assert.Equal(t, "quota exceeded", b.Message)
	assert.ErrorIs(t, b.Err(), ErrRemoteTaskFailed)
	assert.Equal(t, 1, svc.pollCount(js[1].OutputName))

	assert.Equal(t, process.StateFailed, c.State)
	assert.Equal(t, schema.OutcomeTrackerTimeout, c.Kind)
	assert.Contains(t, c.Message, "tracker gave up")
	assert.NotContains(t, c.Message, "quota")
	assert.Equal(t, 5, svc.pollCount(js[2].OutputName))

	require.Len(t, rounds, 5)
	last := rounds[len(rounds)-1]
	assert.Equal(t, Progress{Round: 5, Total: 3, Succeeded: 1, Failed: 2, Elapsed: last.Elapsed}, last)

	// 3 pending + A running + 3 terminal.
	assert.Len(t, sink.events, 7)
}

func TestPollErrorsResetOnSuccess(t *testing.T) {
	js := jobs("FLAKY")
	svc := newScripted(map[string]pollFunc{
		js[0].OutputName: func(n int) (compute.Status, error) {
			switch {
			case n == 9:
				return compute.Status{State: process.StateSucceeded}, nil
			case n%3 == 0:
				return compute.Status{State: process.StateRunning}, nil
			}
			return compute.Status{}, errors.New("timeout")
		},
	})
	opts := fastOptions()
	opts.MaxPollErrors = 3
	tr := New(svc, opts, nil)
	ctx := context.Background()

	results := tr.AwaitAll(ctx, tr.SubmitAll(ctx, js), nil)
	assert.Equal(t, schema.OutcomeSucceeded, results[0].Kind)
}

func TestTerminalStateIsNeverRevisited(t *testing.T) {
	js := jobs("X")
	svc := newScripted(map[string]pollFunc{
		js[0].OutputName: func(n int) (compute.Status, error) {
			if n == 1 {
				return compute.Status{State: process.StateSucceeded}, nil
			}
			return compute.Status{State: process.StateRunning}, nil
		},
	})
	tr := New(svc, fastOptions(), nil)
	ctx := context.Background()

	results := tr.AwaitAll(ctx, tr.SubmitAll(ctx, js), nil)
	assert.Equal(t, process.StateSucceeded, results[0].State)
	assert.Equal(t, 1, svc.pollCount(js[0].OutputName))
}

func TestMaxRoundsTimesOut(t *testing.T) {
	js := jobs("SLOW")
	opts := fastOptions()
	opts.MaxRounds = 3
	svc := newScripted(nil)
	tr := New(svc, opts, nil)
	ctx := context.Background()

	results := tr.AwaitAll(ctx, tr.SubmitAll(ctx, js), nil)
	assert.Equal(t, process.StateFailed, results[0].State)
	assert.Equal(t, schema.OutcomeTrackerTimeout, results[0].Kind)
	assert.Contains(t, results[0].Message, "3 polling rounds")
	assert.Equal(t, 3, svc.pollCount(js[0].OutputName))
}

func TestMaxWaitTimesOut(t *testing.T) {
	js := jobs("SLOW")
	opts := fastOptions()
	opts.MaxWait = 20 * time.Millisecond
	tr := New(newScripted(nil), opts, nil)
	ctx := context.Background()

	results := tr.AwaitAll(ctx, tr.SubmitAll(ctx, js), nil)
	assert.Equal(t, schema.OutcomeTrackerTimeout, results[0].Kind)
	assert.ErrorContains(t, results[0].Err(), "tracker gave up")
}

func TestCancelStopsPollingAfterRound(t *testing.T) {
	js := jobs("A", "B")
	svc := newScripted(nil)
	tr := New(svc, fastOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tasks := tr.SubmitAll(ctx, js)
	results := tr.AwaitAll(ctx, tasks, func(p Progress) {
		if p.Round == 2 {
			cancel()
		}
	})
	for _, r := range results {
		assert.Equal(t, schema.OutcomeInterrupted, r.Kind)
		assert.Equal(t, process.StateRunning, r.State)
		assert.ErrorIs(t, r.Err(), ErrInterrupted)
	}
	assert.Equal(t, 2, svc.pollCount(js[0].OutputName))
}

func TestSubmitAllCancelledSubmitsNothing(t *testing.T) {
	svc := newScripted(nil)
	tr := New(svc, fastOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := tr.SubmitAll(ctx, jobs("A", "B"))
	for _, task := range tasks {
		assert.Equal(t, process.StateCancelled, task.State)
		assert.Equal(t, cancelledBeforeSubmission, task.Error)
	}
	assert.Empty(t, svc.attempts)
}

func TestSubmitRetriesTransientErrors(t *testing.T) {
	js := jobs("RETRY", "REJECT", "DOWN")
	svc := newScripted(nil)
	svc.submitErr = func(attempt int, req compute.Request) error {
		switch req.Export.FilePrefix {
		case js[0].OutputName:
			if attempt < 3 {
				return errors.New("connection reset")
			}
		case js[1].OutputName:
			return fmt.Errorf("%w: invalid band", compute.ErrRejected)
		case js[2].OutputName:
			return errors.New("service unavailable")
		}
		return nil
	}
	tr := New(svc, fastOptions(), nil)

	tasks := tr.SubmitAll(context.Background(), js)
	assert.Equal(t, process.StatePending, tasks[0].State)
	assert.Equal(t, js[0].OutputName, tasks[0].RemoteID)

	assert.Equal(t, process.StateFailed, tasks[1].State)
	assert.Equal(t, schema.OutcomeSubmissionFailed, tasks[1].Kind)
	assert.Contains(t, tasks[1].Error, "invalid band")

	assert.Equal(t, schema.OutcomeSubmissionFailed, tasks[2].Kind)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 3, svc.attempts[js[0].OutputName])
	assert.Equal(t, 1, svc.attempts[js[1].OutputName])
	assert.Equal(t, 4, svc.attempts[js[2].OutputName])
}

func TestSubmitRetriesReuseRequestID(t *testing.T) {
	js := jobs("RETRY", "OTHER")
	var mu sync.Mutex
	ids := make(map[string][]string)
	svc := newScripted(nil)
	svc.submitErr = func(attempt int, req compute.Request) error {
		mu.Lock()
		ids[req.Export.FilePrefix] = append(ids[req.Export.FilePrefix], req.Export.RequestID)
		mu.Unlock()
		if req.Export.FilePrefix == js[0].OutputName && attempt < 3 {
			return errors.New("connection reset")
		}
		return nil
	}
	tr := New(svc, fastOptions(), nil)

	tasks := tr.SubmitAll(context.Background(), js)
	require.Equal(t, process.StatePending, tasks[0].State)

	mu.Lock()
	defer mu.Unlock()
	retried := ids[js[0].OutputName]
	require.Len(t, retried, 3)
	assert.NotEmpty(t, retried[0])
	assert.Equal(t, retried[0], retried[1])
	assert.Equal(t, retried[0], retried[2])
	require.Len(t, ids[js[1].OutputName], 1)
	assert.NotEqual(t, retried[0], ids[js[1].OutputName][0])
}
