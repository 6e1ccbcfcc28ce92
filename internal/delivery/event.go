// Package delivery decides how index and delete events reach the backend:
// immediately, through the pending queues, or via a named custom handler.
package delivery

import (
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/searchsync/internal/config"
	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// Op is the kind of operation an event asks for.
type Op int

const (
	OpIndex Op = iota
	OpDelete
)

// String returns "index" or "delete".
func (o Op) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "index"
}

// Mode is a delivery mode.
type Mode string

const (
	ModeLocal  Mode = config.DeliveryLocal
	ModeQueued Mode = config.DeliveryQueued
	ModeCustom Mode = config.DeliveryCustom
)

// IndexEvent asks for one model to be indexed or deleted. It is created
// once per lifecycle notification and never modified.
type IndexEvent struct {
	ID    string
	Op    Op
	Model mapping.Model
	At    time.Time
}

// NewEvent returns an event with a fresh id.
func NewEvent(op Op, m mapping.Model) IndexEvent {
	return IndexEvent{ID: uuid.NewString(), Op: op, Model: m, At: time.Now()}
}

// Outcome reports what happened to an event. Callers may ignore it;
// delivery failures never propagate as errors on their own.
type Outcome struct {
	Event IndexEvent

	// Handler names the handler that took the event.
	Handler string

	// Queued is set when the event went to the pending queues.
	Queued bool

	// Ignored is set when the event was not worth indexing.
	Ignored bool

	// Err is the delivery failure, if any.
	Err error
}

// Delivered reports whether the event was carried out or queued.
func (o Outcome) Delivered() bool {
	return !o.Ignored && o.Err == nil
}
