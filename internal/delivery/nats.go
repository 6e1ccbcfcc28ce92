package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// NATSHandlerName is the registered name of the NATS handler.
const NATSHandlerName = "nats"

// Publisher sends a message to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Message is what the NATS handler publishes for each event.
type Message struct {
	ID       string          `json:"id"`
	Op       string          `json:"op"`
	Kind     string          `json:"kind"`
	Key      string          `json:"key"`
	Index    string          `json:"index"`
	Type     string          `json:"type"`
	Document json.RawMessage `json:"document,omitempty"`
	At       time.Time       `json:"at"`
}

// NATSHandler hands events to another process over NATS. Subjects are
// <subject>.index and <subject>.delete.
type NATSHandler struct {
	pub      Publisher
	registry *mapping.Registry
	subject  string
	closer   func()
}

// NewNATSHandler returns a handler publishing through pub.
func NewNATSHandler(pub Publisher, registry *mapping.Registry, subject string) *NATSHandler {
	return &NATSHandler{pub: pub, registry: registry, subject: subject}
}

// Name implements Handler.
func (h *NATSHandler) Name() string { return NATSHandlerName }

// Deliver implements Handler.
func (h *NATSHandler) Deliver(ctx context.Context, ev IndexEvent) Outcome {
	out := Outcome{Event: ev, Handler: h.Name()}

	em := h.registry.Mapping(ev.Model.Kind())
	msg := Message{
		ID:    ev.ID,
		Op:    ev.Op.String(),
		Kind:  ev.Model.Kind(),
		Key:   em.DocumentID(ev.Model),
		Index: em.IndexName,
		Type:  em.TypeName,
		At:    ev.At,
	}
	if ev.Op == OpIndex {
		doc, err := em.Document(ev.Model)
		if err != nil {
			out.Err = fmt.Errorf("build document: %w", err)
			return out
		}
		msg.Document = doc
	}

	data, err := json.Marshal(msg)
	if err != nil {
		out.Err = fmt.Errorf("encode message: %w", err)
		return out
	}
	subject := h.subject + "." + msg.Op
	if err := h.pub.Publish(ctx, subject, data); err != nil {
		slog.Warn("delivery_failed",
			slog.String("event_id", ev.ID),
			slog.String("handler", h.Name()),
			slog.String("subject", subject),
			slog.String("error", err.Error()))
		out.Err = err
	}
	return out
}

// Close releases the NATS connection, if the handler owns one.
func (h *NATSHandler) Close() error {
	if h.closer != nil {
		h.closer()
	}
	return nil
}

// jetStreamPublisher publishes through JetStream and waits for the ack.
type jetStreamPublisher struct {
	js jetstream.JetStream
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// DialJetStream connects to url and returns a JetStream publisher plus a
// function closing the connection.
func DialJetStream(url string) (Publisher, func(), error) {
	nc, err := nats.Connect(url, nats.Name("searchsync"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	return &jetStreamPublisher{js: js}, nc.Close, nil
}

func newNATSHandlerFromDeps(d Deps) (Handler, error) {
	if d.Config == nil || d.Config.NATS.URL == "" {
		return nil, fmt.Errorf("nats.url is not configured")
	}
	pub, closer, err := DialJetStream(d.Config.NATS.URL)
	if err != nil {
		return nil, err
	}
	h := NewNATSHandler(pub, d.Registry, d.Config.NATS.Subject)
	h.closer = closer
	slog.Info("nats_handler_connected", slog.String("url", d.Config.NATS.URL), slog.String("subject", h.subject))
	return h, nil
}
