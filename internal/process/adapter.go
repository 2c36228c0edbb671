// internal/process/adapter.go
package process

import (
	"time"

	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

// State represents the lifecycle state of a remote export task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transition can occur.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Task tracks one job from submission to its terminal state. A task is
// mutated only by the tracker goroutine that owns it.
type Task struct {
	Job      matrix.Job
	RemoteID string
	State    State
	Error    string
	// Kind is set when the task reaches a terminal state.
	Kind schema.OutcomeKind

	// PollErrors counts consecutive failed status queries.
	PollErrors int
	Polls      int

	SubmittedAt time.Time
	FinishedAt  time.Time
}

// NewTask returns a Pending task for a job acknowledged by the compute
// service under remoteID.
func NewTask(job matrix.Job, remoteID string) *Task {
	return &Task{
		Job:         job,
		RemoteID:    remoteID,
		State:       StatePending,
		SubmittedAt: time.Now(),
	}
}

// MarkRunning moves a Pending task to Running. It returns false when the
// transition is not allowed.
func MarkRunning(t *Task) bool {
	if t.State != StatePending {
		return false
	}
	t.State = StateRunning
	return true
}

func MarkSucceeded(t *Task) bool {
	return finish(t, StateSucceeded, schema.OutcomeSucceeded, "")
}

// MarkFailed records a terminal failure of the given kind. A nil err leaves
// Error empty.
func MarkFailed(t *Task, kind schema.OutcomeKind, err error) bool {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return finish(t, StateFailed, kind, msg)
}

// MarkCancelled records a cancellation with an optional reason.
func MarkCancelled(t *Task, reason string) bool {
	return finish(t, StateCancelled, schema.OutcomeCancelled, reason)
}

func finish(t *Task, s State, kind schema.OutcomeKind, msg string) bool {
	if t.State.IsTerminal() {
		return false
	}
	t.State = s
	t.Kind = kind
	t.Error = msg
	t.FinishedAt = time.Now()
	return true
}

// Observe applies a state reported by the compute service. Reports that would
// move the task backwards are ignored. It returns true when the state changed.
func Observe(t *Task, s State, msg string) bool {
	t.PollErrors = 0
	switch s {
	case StatePending:
		return false
	case StateRunning:
		return MarkRunning(t)
	case StateSucceeded:
		return MarkSucceeded(t)
	case StateFailed:
		if msg == "" {
			msg = "remote task failed without a message"
		}
		return finish(t, StateFailed, schema.OutcomeRemoteFailed, msg)
	case StateCancelled:
		if msg == "" {
			msg = "cancelled by the compute service"
		}
		return MarkCancelled(t, msg)
	}
	return false
}
