package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-geoexport/internal/matrix"
	"github.com/tendant/simple-geoexport/internal/process"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

type message struct {
	subject string
	v       any
}

type fakePub struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakePub) PublishJSON(subject string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{subject, v})
	return f.err
}

func testTask() *process.Task {
	r := matrix.StateRegion("Texas")
	w := matrix.Monthly(2012, 5, 5)[0]
	return process.NewTask(matrix.Job{
		Region:     r,
		Window:     w,
		Indicator:  "NDVI",
		OutputName: matrix.OutputName("NDVI", r, w),
	}, "projects/p/operations/42")
}

func TestTaskChangedPublishesLifecycleEvent(t *testing.T) {
	pub := &fakePub{}
	p := NewPublisher(pub, "geoexport.batch.done")
	ctx := WithBatchID(context.Background(), "batch-1")

	task := testTask()
	process.MarkRunning(task)
	p.TaskChanged(ctx, task)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "geoexport.batch.done.lifecycle", pub.msgs[0].subject)
	evt, ok := pub.msgs[0].v.(schema.TaskLifecycleEvent)
	require.True(t, ok)
	assert.Equal(t, "batch-1", evt.BatchID)
	assert.Equal(t, "texas/2012-05-01_to_2012-05-31/NDVI", evt.JobKey)
	assert.Equal(t, "ndvi_texas_2012-05-01_to_2012-05-31", evt.OutputName)
	assert.Equal(t, "running", evt.State)
	assert.Empty(t, evt.FailureType)
}

func TestTaskChangedClassifiesFailures(t *testing.T) {
	pub := &fakePub{}
	p := NewPublisher(pub, "events")

	task := testTask()
	process.MarkFailed(task, schema.OutcomeRemoteFailed, errors.New("quota"))
	p.TaskChanged(context.Background(), task)

	evt := pub.msgs[0].v.(schema.TaskLifecycleEvent)
	assert.Equal(t, "failed", evt.State)
	assert.Equal(t, "quota", evt.Error)
	assert.Equal(t, schema.FailureTypePermanent, evt.FailureType)
	assert.Empty(t, evt.BatchID)
}

func TestPublishErrorsDoNotPanic(t *testing.T) {
	pub := &fakePub{err: errors.New("nats: connection closed")}
	p := NewPublisher(pub, "events")

	p.TaskChanged(context.Background(), testTask())
	err := p.BatchDone(context.Background(), schema.BatchDone{ID: "b"})
	assert.Error(t, err)
	assert.Len(t, pub.msgs, 2)
	assert.Equal(t, "events", pub.msgs[1].subject)
}
