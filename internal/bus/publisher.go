package bus

import (
	"context"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/tendant/simple-geoexport/internal/process"
	"github.com/tendant/simple-geoexport/pkg/schema"
)

// JSONPublisher is the part of Client a Publisher needs.
type JSONPublisher interface {
	PublishJSON(subject string, v any) error
}

type batchKey struct{}

// WithBatchID stores the batch id stamped on lifecycle events.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchKey{}, id)
}

// BatchID returns the id stored by WithBatchID.
func BatchID(ctx context.Context) string {
	id, _ := ctx.Value(batchKey{}).(string)
	return id
}

// Publisher sends task lifecycle events to "<subject>.lifecycle" and the
// batch summary to subject. Publish errors are logged, never returned to the
// tracker.
type Publisher struct {
	pub     JSONPublisher
	subject string
}

func NewPublisher(pub JSONPublisher, subject string) *Publisher {
	return &Publisher{pub: pub, subject: subject}
}

// LifecycleSubject is where TaskChanged publishes.
func (p *Publisher) LifecycleSubject() string { return p.subject + ".lifecycle" }

func (p *Publisher) TaskChanged(ctx context.Context, t *process.Task) {
	evt := schema.TaskLifecycleEvent{
		BatchID:    BatchID(ctx),
		JobKey:     t.Job.Key(),
		Region:     t.Job.Region.Name,
		Window:     t.Job.Window.Label(),
		Indicator:  t.Job.Indicator,
		OutputName: t.Job.OutputName,
		RemoteID:   t.RemoteID,
		State:      string(t.State),
		PollErrors: t.PollErrors,
		Error:      t.Error,
		HappenedAt: time.Now().Unix(),
	}
	if t.State.IsTerminal() && t.Kind != schema.OutcomeSucceeded {
		evt.FailureType = schema.FailureTypeOf(t.Kind)
	}
	if err := p.pub.PublishJSON(p.LifecycleSubject(), evt); err != nil {
		slogctx.FromCtx(ctx).Warn("publish lifecycle event failed", "job", evt.JobKey, "state", evt.State, "err", err)
	}
}

// BatchDone publishes the batch summary.
func (p *Publisher) BatchDone(ctx context.Context, done schema.BatchDone) error {
	if err := p.pub.PublishJSON(p.subject, done); err != nil {
		slogctx.FromCtx(ctx).Warn("publish batch result failed", "batch_id", done.ID, "err", err)
		return err
	}
	slogctx.FromCtx(ctx).Info("published batch result", "batch_id", done.ID, "status", done.Status, "subject", p.subject)
	return nil
}
