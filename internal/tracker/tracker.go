// Package tracker submits export jobs to the compute service and polls them
// until every task is terminal.
//
// Cancelling the context stops new submissions at once and stops polling
// after the current round. Tasks already accepted by the compute service keep
// running remotely; nothing is cancelled on the service side.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	slogctx "github.com/veqryn/slog-context"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tendant/simple-geoexport/internal/compute"
	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/process"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

var (
	ErrRemoteSubmission = errors.New("remote submission failed")
	ErrRemoteTaskFailed = errors.New("remote task failed")
	ErrTrackerTimeout   = errors.New("tracker gave up")
	ErrInterrupted      = errors.New("batch cancelled before the task finished")
)

const cancelledBeforeSubmission = "batch cancelled before submission"

// Options tune submission and polling. Zero values take the defaults below.
type Options struct {
	PollInterval time.Duration // 10s
	MaxInterval  time.Duration // 2m
	Multiplier   float64       // 1.5
	// MaxWait bounds the whole polling phase. Zero means no limit.
	MaxWait time.Duration
	// MaxRounds bounds the number of polling rounds. Zero means no limit.
	MaxRounds int
	// MaxPollErrors is the consecutive error count after which a task is
	// failed locally.
	MaxPollErrors int // 5
	Concurrency   int // 8
	// PollRate caps status queries per second across all tasks. Zero means
	// no limit.
	PollRate float64

	SubmitRate    float64 // 2 per second
	SubmitRetries uint64  // 3
	SubmitBackoff time.Duration

	Export compute.Defaults
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.MaxInterval < o.PollInterval {
		o.MaxInterval = max(2*time.Minute, o.PollInterval)
	}
	if o.Multiplier < 1 {
		o.Multiplier = 1.5
	}
	if o.MaxPollErrors <= 0 {
		o.MaxPollErrors = 5
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.SubmitRate <= 0 {
		o.SubmitRate = 2
	}
	if o.SubmitBackoff <= 0 {
		o.SubmitBackoff = 2 * time.Second
	}
	return o
}

// EventSink is told about every task state change. It is called from
// several goroutines at once.
type EventSink interface {
	TaskChanged(ctx context.Context, t *process.Task)
}

// Progress is reported after every polling round.
type Progress struct {
	Round     int
	Total     int
	Pending   int
	Running   int
	Succeeded int
	Failed    int
	Cancelled int
	Elapsed   time.Duration
}

func (p Progress) String() string {
	return fmt.Sprintf("Round %d: %d/%d done | running: %d | pending: %d | failed: %d | elapsed: %s",
		p.Round, p.Succeeded+p.Failed+p.Cancelled, p.Total, p.Running, p.Pending, p.Failed,
		p.Elapsed.Round(time.Second))
}

// Result is the final view of one task.
type Result struct {
	Job      matrix.Job
	RemoteID string
	State    process.State
	Kind     schema.OutcomeKind
	Message  string
	Polls    int
}

// Err returns the failure as an error wrapping the matching sentinel.
func (r Result) Err() error {
	switch r.Kind {
	case schema.OutcomeSucceeded:
		return nil
	case schema.OutcomeRemoteFailed:
		return fmt.Errorf("%w: %s", ErrRemoteTaskFailed, r.Message)
	case schema.OutcomeSubmissionFailed:
		return errors.New(r.Message)
	case schema.OutcomeTrackerTimeout:
		return errors.New(r.Message)
	case schema.OutcomeInterrupted:
		return ErrInterrupted
	}
	if r.Message != "" {
		return errors.New(r.Message)
	}
	return fmt.Errorf("task %s", r.Kind)
}

// Tracker owns the tasks of one batch run.
type Tracker struct {
	svc         compute.Service
	opts        Options
	sink        EventSink
	submitLimit *rate.Limiter
	pollLimit   *rate.Limiter
}

// New returns a Tracker. sink may be nil.
func New(svc compute.Service, opts Options, sink EventSink) *Tracker {
	opts = opts.withDefaults()
	pollLimit := rate.NewLimiter(rate.Inf, 1)
	if opts.PollRate > 0 {
		pollLimit = rate.NewLimiter(rate.Limit(opts.PollRate), opts.Concurrency)
	}
	return &Tracker{
		svc:         svc,
		opts:        opts,
		sink:        sink,
		submitLimit: rate.NewLimiter(rate.Limit(opts.SubmitRate), 1),
		pollLimit:   pollLimit,
	}
}

// SubmitAll submits every job and returns one task per job in job order.
// Jobs the service did not accept come back Failed (submission_failed) or,
// after cancellation, Cancelled.
func (t *Tracker) SubmitAll(ctx context.Context, jobs []matrix.Job) []*process.Task {
	tasks := make([]*process.Task, len(jobs))
	var g errgroup.Group
	g.SetLimit(t.opts.Concurrency)
	for i, job := range jobs {
		if ctx.Err() != nil {
			tasks[i] = cancelledTask(job)
			continue
		}
		g.Go(func() error {
			tasks[i] = t.submit(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	for _, task := range tasks {
		if !task.State.IsTerminal() {
			ActiveTasksGauge.Inc()
		}
		t.notify(ctx, task)
	}
	return tasks
}

func cancelledTask(job matrix.Job) *process.Task {
	task := process.NewTask(job, "")
	process.MarkCancelled(task, cancelledBeforeSubmission)
	return task
}

func (t *Tracker) submit(ctx context.Context, job matrix.Job) *process.Task {
	logger := slogctx.FromCtx(ctx).With("job", job.Key())
	if err := t.submitLimit.Wait(ctx); err != nil {
		return cancelledTask(job)
	}

	req := compute.NewRequest(job, t.opts.Export)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.SubmitBackoff
	b.MaxElapsedTime = 0

	var id string
	err := backoff.RetryNotify(func() error {
		var err error
		id, err = t.svc.Submit(ctx, req)
		if err == nil {
			return nil
		}
		if errors.Is(err, compute.ErrRejected) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, t.opts.SubmitRetries), ctx), func(err error, wait time.Duration) {
		SubmissionsTotal.WithLabelValues("retry").Inc()
		logger.Warn("submission failed, retrying", "err", err, "wait", wait)
	})

	if err != nil {
		if ctx.Err() != nil {
			return cancelledTask(job)
		}
		SubmissionsTotal.WithLabelValues("failed").Inc()
		logger.Error("submission failed", "err", err)
		task := process.NewTask(job, "")
		process.MarkFailed(task, schema.OutcomeSubmissionFailed, fmt.Errorf("%w: %v", ErrRemoteSubmission, err))
		return task
	}
	SubmissionsTotal.WithLabelValues("ok").Inc()
	logger.Info("export submitted", "task_id", id, "output", job.OutputName)
	return process.NewTask(job, id)
}

// AwaitAll polls the non-terminal tasks in rounds until all of them are
// terminal, the MaxWait or MaxRounds cap is hit, or ctx is cancelled. The
// delay between rounds grows from PollInterval to MaxInterval. onProgress may
// be nil. Results keep the order of tasks.
func (t *Tracker) AwaitAll(ctx context.Context, tasks []*process.Task, onProgress func(Progress)) []Result {
	if len(tasks) == 0 {
		return []Result{}
	}
	logger := slogctx.FromCtx(ctx)
	start := time.Now()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.PollInterval
	b.MaxInterval = t.opts.MaxInterval
	b.Multiplier = t.opts.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	for round := 1; ; round++ {
		active := pending(tasks)
		if len(active) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(t.opts.Concurrency)
		for _, task := range active {
			g.Go(func() error {
				t.poll(ctx, task)
				return nil
			})
		}
		_ = g.Wait()

		if onProgress != nil {
			onProgress(progress(round, tasks, time.Since(start)))
		}
		if len(pending(tasks)) == 0 || ctx.Err() != nil {
			break
		}
		if t.opts.MaxRounds > 0 && round >= t.opts.MaxRounds {
			t.giveUp(ctx, tasks, fmt.Sprintf("%d polling rounds", round))
			break
		}

		wait := b.NextBackOff()
		if t.opts.MaxWait > 0 {
			left := t.opts.MaxWait - time.Since(start)
			if left <= 0 {
				t.giveUp(ctx, tasks, t.opts.MaxWait.String())
				break
			}
			wait = min(wait, left)
		}
		if !sleep(ctx, wait) {
			break
		}
	}

	results := Results(tasks)
	for _, res := range results {
		if res.Kind == schema.OutcomeInterrupted {
			logger.Warn("task interrupted", "job", res.Job.Key(), "task_id", res.RemoteID, "state", res.State)
		}
	}
	return results
}

// Results snapshots tasks. Tasks that are not terminal are reported as
// interrupted.
func Results(tasks []*process.Task) []Result {
	results := make([]Result, len(tasks))
	for i, task := range tasks {
		results[i] = Result{
			Job:      task.Job,
			RemoteID: task.RemoteID,
			State:    task.State,
			Kind:     task.Kind,
			Message:  task.Error,
			Polls:    task.Polls,
		}
		if !task.State.IsTerminal() {
			results[i].Kind = schema.OutcomeInterrupted
			results[i].Message = fmt.Sprintf("batch cancelled while task was %s; remote task left running", task.State)
		}
	}
	return results
}

func (t *Tracker) poll(ctx context.Context, task *process.Task) {
	logger := slogctx.FromCtx(ctx).With("job", task.Job.Key(), "task_id", task.RemoteID)
	if err := t.pollLimit.Wait(ctx); err != nil {
		return
	}
	st, err := t.svc.PollStatus(ctx, task.RemoteID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		task.PollErrors++
		PollErrorsTotal.Inc()
		logger.Warn("status query failed", "err", err, "consecutive", task.PollErrors)
		if task.PollErrors >= t.opts.MaxPollErrors {
			t.finish(ctx, task, func() bool {
				return process.MarkFailed(task, schema.OutcomeTrackerTimeout,
					fmt.Errorf("%w: %d consecutive status query errors, last: %v", ErrTrackerTimeout, task.PollErrors, err))
			})
		}
		return
	}
	task.Polls++
	prev := task.State
	if !process.Observe(task, st.State, st.Message) {
		return
	}
	if !task.State.IsTerminal() {
		logger.Debug("task state changed", "from", prev, "to", task.State)
		t.notify(ctx, task)
		return
	}
	t.finish(ctx, task, func() bool { return true })
}

// finish applies a terminal transition and records it.
func (t *Tracker) finish(ctx context.Context, task *process.Task, mark func() bool) {
	if !mark() {
		return
	}
	ActiveTasksGauge.Dec()
	TerminalTasksTotal.WithLabelValues(string(task.State)).Inc()
	TaskDurationHistogram.Observe(task.FinishedAt.Sub(task.SubmittedAt).Seconds())

	logger := slogctx.FromCtx(ctx).With("job", task.Job.Key(), "task_id", task.RemoteID)
	if task.State == process.StateSucceeded {
		logger.Info("task succeeded", "polls", task.Polls)
	} else {
		logger.Warn("task finished without output", "state", task.State, "kind", task.Kind, "error", task.Error)
	}
	t.notify(ctx, task)
}

func (t *Tracker) giveUp(ctx context.Context, tasks []*process.Task, limit string) {
	for _, task := range pending(tasks) {
		state := task.State
		t.finish(ctx, task, func() bool {
			return process.MarkFailed(task, schema.OutcomeTrackerTimeout,
				fmt.Errorf("%w: task still %s after %s", ErrTrackerTimeout, state, limit))
		})
	}
}

func (t *Tracker) notify(ctx context.Context, task *process.Task) {
	if t.sink != nil {
		t.sink.TaskChanged(ctx, task)
	}
}

func pending(tasks []*process.Task) []*process.Task {
	var out []*process.Task
	for _, t := range tasks {
		if !t.State.IsTerminal() {
			out = append(out, t)
		}
	}
	return out
}

func progress(round int, tasks []*process.Task, elapsed time.Duration) Progress {
	p := Progress{Round: round, Total: len(tasks), Elapsed: elapsed}
	for _, t := range tasks {
		switch t.State {
		case process.StatePending:
			p.Pending++
		case process.StateRunning:
			p.Running++
		case process.StateSucceeded:
			p.Succeeded++
		case process.StateFailed:
			p.Failed++
		case process.StateCancelled:
			p.Cancelled++
		}
	}
	return p
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
