package delivery

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// Handler carries out index events.
type Handler interface {
	Name() string
	Deliver(ctx context.Context, ev IndexEvent) Outcome
}

// Executor performs a single backend write for a model.
type Executor interface {
	IndexModel(ctx context.Context, m mapping.Model) error
	DeleteModel(ctx context.Context, m mapping.Model) error
}

// Enqueuer holds events back for a later drain.
type Enqueuer interface {
	EnqueueIndex(m mapping.Model)
	EnqueueDelete(m mapping.Model)
}

// LocalHandler executes events synchronously.
type LocalHandler struct {
	exec Executor
}

// NewLocalHandler returns a handler executing through exec.
func NewLocalHandler(exec Executor) *LocalHandler {
	return &LocalHandler{exec: exec}
}

// Name implements Handler.
func (h *LocalHandler) Name() string { return string(ModeLocal) }

// Deliver implements Handler. Failures are logged and returned in the
// outcome, never retried.
func (h *LocalHandler) Deliver(ctx context.Context, ev IndexEvent) Outcome {
	var err error
	switch ev.Op {
	case OpIndex:
		err = h.exec.IndexModel(ctx, ev.Model)
	case OpDelete:
		err = h.exec.DeleteModel(ctx, ev.Model)
	}
	if err != nil {
		slog.Warn("delivery_failed",
			slog.String("event_id", ev.ID),
			slog.String("op", ev.Op.String()),
			slog.String("kind", ev.Model.Kind()),
			slog.String("key", ev.Model.Key()),
			slog.String("error", err.Error()))
	}
	return Outcome{Event: ev, Handler: h.Name(), Err: err}
}

// QueuedHandler puts events on the pending queues.
type QueuedHandler struct {
	queue Enqueuer
}

// NewQueuedHandler returns a handler feeding queue.
func NewQueuedHandler(queue Enqueuer) *QueuedHandler {
	return &QueuedHandler{queue: queue}
}

// Name implements Handler.
func (h *QueuedHandler) Name() string { return string(ModeQueued) }

// Deliver implements Handler.
func (h *QueuedHandler) Deliver(_ context.Context, ev IndexEvent) Outcome {
	Enqueue(h.queue, ev)
	return Outcome{Event: ev, Handler: h.Name(), Queued: true}
}

// Enqueue puts ev on the queue matching its op.
func Enqueue(q Enqueuer, ev IndexEvent) {
	if ev.Op == OpDelete {
		q.EnqueueDelete(ev.Model)
		return
	}
	q.EnqueueIndex(ev.Model)
}
