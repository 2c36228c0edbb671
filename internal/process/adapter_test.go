package process

import (
	"errors"
	"testing"

	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

func testJob() matrix.Job {
	r := matrix.StateRegion("Vermont")
	w := matrix.Annual(2019)
	return matrix.Job{Region: r, Window: w, Indicator: "NDVI", OutputName: matrix.OutputName("NDVI", r, w)}
}

func TestNewTaskCapturesJob(t *testing.T) {
	task := NewTask(testJob(), "projects/p/operations/op-1")

	if task.RemoteID != "projects/p/operations/op-1" || task.State != StatePending {
		t.Fatalf("unexpected task identity: %+v", task)
	}
	if task.Job.Key() != "vermont/2019-01-01_to_2019-12-31/NDVI" {
		t.Fatalf("job not preserved: %s", task.Job.Key())
	}
	if task.SubmittedAt.IsZero() {
		t.Fatal("submission time not recorded")
	}
}

func TestMarkFailedSetsStateKindAndError(t *testing.T) {
	task := NewTask(testJob(), "op-2")
	MarkFailed(task, schema.OutcomeTrackerTimeout, errors.New("boom"))

	if task.State != StateFailed {
		t.Fatalf("task state not failed: %v", task.State)
	}
	if task.Kind != schema.OutcomeTrackerTimeout {
		t.Fatalf("unexpected kind: %v", task.Kind)
	}
	if task.Error != "boom" {
		t.Fatalf("task error not recorded: %q", task.Error)
	}
}

func TestMarkFailedDoesNotSetErrorWhenNil(t *testing.T) {
	task := NewTask(testJob(), "op-3")
	MarkFailed(task, schema.OutcomeSubmissionFailed, nil)

	if task.State != StateFailed {
		t.Fatalf("task state not failed: %v", task.State)
	}
	if task.Error != "" {
		t.Fatalf("expected empty error string, got %q", task.Error)
	}
}

func TestTerminalStatesNeverRevert(t *testing.T) {
	task := NewTask(testJob(), "op-4")
	if !Observe(task, StateRunning, "") {
		t.Fatal("pending -> running rejected")
	}
	if Observe(task, StatePending, "") {
		t.Fatal("running -> pending accepted")
	}
	if !Observe(task, StateFailed, "quota exceeded") {
		t.Fatal("running -> failed rejected")
	}
	for _, s := range []State{StatePending, StateRunning, StateSucceeded, StateCancelled} {
		if Observe(task, s, "") {
			t.Fatalf("failed -> %s accepted", s)
		}
	}
	if MarkSucceeded(task) || MarkCancelled(task, "late") {
		t.Fatal("terminal task changed by Mark call")
	}
	if task.State != StateFailed || task.Error != "quota exceeded" || task.Kind != schema.OutcomeRemoteFailed {
		t.Fatalf("terminal task mutated: %+v", task)
	}
}

func TestObserveSkipsRunning(t *testing.T) {
	task := NewTask(testJob(), "op-5")
	if !Observe(task, StateSucceeded, "") {
		t.Fatal("pending -> succeeded rejected")
	}
	if task.Kind != schema.OutcomeSucceeded || task.FinishedAt.IsZero() {
		t.Fatalf("unexpected terminal task: %+v", task)
	}
}

func TestObserveResetsPollErrors(t *testing.T) {
	task := NewTask(testJob(), "op-6")
	task.PollErrors = 3
	Observe(task, StatePending, "")
	if task.PollErrors != 0 {
		t.Fatalf("poll errors not reset: %d", task.PollErrors)
	}
}
