// Package router turns host lifecycle notifications into index events.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/Aman-CERP/searchsync/internal/delivery"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// Lifecycle event name suffixes. Hosts prefix them with their own
// namespace, e.g. "store.objectPersisted".
const (
	SuffixPersisted = ".objectPersisted"
	SuffixUpdated   = ".objectUpdated"
	SuffixDeleted   = ".objectDeleted"
)

// BlockedHandlerName is reported as the handler of events diverted to the
// pending queues by block mode.
const BlockedHandlerName = "blocked"

// LifecycleEvent is one host notification.
type LifecycleEvent struct {
	Name    string
	Payload any
}

// Provisioner ensures the index of a kind exists.
type Provisioner interface {
	EnsureStarted(ctx context.Context, kind string) error
}

// Dispatcher delivers an event through the current delivery policy.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev delivery.IndexEvent) delivery.Outcome
}

// Router filters lifecycle events and feeds the delivery policy. Safe for
// concurrent use.
type Router struct {
	classifier  mapping.Classifier
	provisioner Provisioner
	dispatcher  Dispatcher
	queue       delivery.Enqueuer

	blocked atomic.Bool
}

// New returns a router. queue receives events while block mode is on.
func New(classifier mapping.Classifier, provisioner Provisioner, dispatcher Dispatcher, queue delivery.Enqueuer) *Router {
	return &Router{
		classifier:  classifier,
		provisioner: provisioner,
		dispatcher:  dispatcher,
		queue:       queue,
	}
}

// SetBlocked turns block mode on or off. Turning it off does not flush
// the queues.
func (r *Router) SetBlocked(on bool) {
	r.blocked.Store(on)
	slog.Info("block_mode_changed", slog.Bool("blocked", on))
}

// Blocked reports whether block mode is on.
func (r *Router) Blocked() bool {
	return r.blocked.Load()
}

// opFor maps an event name to an operation.
func opFor(name string) (delivery.Op, bool) {
	switch {
	case strings.HasSuffix(name, SuffixPersisted), strings.HasSuffix(name, SuffixUpdated):
		return delivery.OpIndex, true
	case strings.HasSuffix(name, SuffixDeleted):
		return delivery.OpDelete, true
	}
	return 0, false
}

// OnLifecycleEvent handles one notification.
//
// Uninteresting events and payloads that are not searchable are ignored.
// A searchable payload that is not a model, or a delivery handler that
// cannot be built, is returned as an error. Provisioning and delivery
// failures are only reported in the outcome; an event whose kind could
// not be provisioned is abandoned.
func (r *Router) OnLifecycleEvent(ctx context.Context, name string, payload any) (delivery.Outcome, error) {
	op, ok := opFor(name)
	if !ok {
		return delivery.Outcome{Ignored: true}, nil
	}
	if !r.classifier.IsSearchable(payload) {
		return delivery.Outcome{Ignored: true}, nil
	}

	m, ok := payload.(mapping.Model)
	if !ok {
		return delivery.Outcome{}, serrors.ContractError(serrors.ErrCodeWrongKind,
			fmt.Sprintf("searchable payload %T is not a model", payload))
	}

	ev := delivery.NewEvent(op, m)
	if err := r.provisioner.EnsureStarted(ctx, m.Kind()); err != nil {
		// The kind stays unstarted; the next event retries provisioning.
		slog.Warn("provision_failed",
			slog.String("kind", m.Kind()),
			slog.String("event", name),
			slog.String("error", err.Error()))
		return delivery.Outcome{Event: ev, Err: err}, nil
	}

	if r.blocked.Load() {
		delivery.Enqueue(r.queue, ev)
		return delivery.Outcome{Event: ev, Handler: BlockedHandlerName, Queued: true}, nil
	}

	out := r.dispatcher.Dispatch(ctx, ev)
	if out.Err != nil && serrors.IsFatal(out.Err) {
		return out, out.Err
	}
	return out, nil
}

// Run consumes events until ctx is done or events is closed. Errors are
// logged; they do not stop the loop.
func (r *Router) Run(ctx context.Context, events <-chan LifecycleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := r.OnLifecycleEvent(ctx, ev.Name, ev.Payload); err != nil {
				attrs := append([]slog.Attr{slog.String("event", ev.Name)}, serrors.LogAttrs(err)...)
				slog.LogAttrs(ctx, slog.LevelError, "lifecycle_event_rejected", attrs...)
			}
		}
	}
}
