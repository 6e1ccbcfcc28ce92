// Package index wires the sync engine together. A Coordinator owns every
// component (mapping registry, backend client, provisioner, delivery
// policy, pending queues, router and query engine) and is the only
// entry point callers need.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/backend/native"
	"github.com/Aman-CERP/searchsync/internal/backend/rest"
	"github.com/Aman-CERP/searchsync/internal/config"
	"github.com/Aman-CERP/searchsync/internal/delivery"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/provision"
	"github.com/Aman-CERP/searchsync/internal/query"
	"github.com/Aman-CERP/searchsync/internal/queue"
	"github.com/Aman-CERP/searchsync/internal/router"
)

// CoordinatorConfig contains the dependencies of a Coordinator.
type CoordinatorConfig struct {
	// Source supplies the configuration. Required.
	Source config.Source

	// Client is the backend. Built from the configuration when nil.
	Client backend.Client

	// Registry holds entity mappings. A registry using DefaultStrategy
	// with the configured index prefix is created when nil.
	Registry *mapping.Registry

	// Classifier decides searchability. Defaults to a KindClassifier over
	// index.searchable.
	Classifier mapping.Classifier

	// Hydrator loads query results from the primary store (optional).
	Hydrator query.Hydrator

	// Handlers is the named handler table for custom delivery (optional).
	Handlers *delivery.Handlers

	// Observer is told about every query (optional).
	Observer query.Observer
}

// Coordinator is the explicit context object of the sync engine.
type Coordinator struct {
	source     config.Source
	client     backend.Client
	registry   *mapping.Registry
	classifier mapping.Classifier

	provisioner *provision.Provisioner
	pending     *queue.Pending
	drainer     *queue.Drainer
	policy      *delivery.Policy
	router      *router.Router
	queries     *query.Engine

	mu        sync.Mutex
	started   bool
	stopDrain context.CancelFunc
	drainDone chan struct{}
}

// NewClient builds the backend client selected by backend.kind.
func NewClient(cfg *config.Config) (backend.Client, error) {
	switch cfg.Backend.Kind {
	case config.BackendNative:
		return native.NewFromConfig(cfg)
	case config.BackendREST:
		return rest.NewFromConfig(cfg)
	default:
		return nil, serrors.ConfigError(fmt.Sprintf("unknown backend kind %q", cfg.Backend.Kind), nil).
			WithSuggestion("Set backend.kind to native or rest")
	}
}

// NewCoordinator builds every component. Nothing touches the backend
// until Start.
func NewCoordinator(cc CoordinatorConfig) (*Coordinator, error) {
	if cc.Source == nil {
		return nil, serrors.ConfigError("configuration source is required", nil)
	}
	cfg := cc.Source.Current()

	c := &Coordinator{
		source:     cc.Source,
		client:     cc.Client,
		registry:   cc.Registry,
		classifier: cc.Classifier,
	}

	var err error
	if c.client == nil {
		if c.client, err = NewClient(cfg); err != nil {
			return nil, err
		}
	}
	if c.registry == nil {
		if c.registry, err = mapping.NewRegistry(mapping.DefaultStrategy{Prefix: cfg.Index.Prefix}); err != nil {
			return nil, err
		}
	}
	if c.classifier == nil {
		c.classifier = mapping.NewKindClassifier(cfg.Index.Searchable...)
	}
	handlers := cc.Handlers
	if handlers == nil {
		handlers = delivery.NewHandlers()
	}

	c.provisioner = provision.New(c.registry, c.client)
	c.pending = queue.NewPending()
	c.drainer = queue.NewDrainer(c.pending, c, cfg.Drain.Rate)
	c.policy = delivery.NewPolicy(c.source, handlers, delivery.Deps{
		Executor: c,
		Queue:    c.pending,
		Registry: c.registry,
		Config:   cfg,
	})
	c.router = router.New(c.classifier, c.provisioner, c.policy, c.pending)
	c.queries = query.NewEngine(c.registry, c.client, cc.Hydrator)
	if cc.Observer != nil {
		c.queries.SetObserver(cc.Observer)
	}

	if cfg.Delivery.BlockEvents {
		c.router.SetBlocked(true)
	}
	return c, nil
}

// Start connects the backend and starts the scheduled drain when
// drain.interval is set. Failing to reach the backend is fatal.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	if err := c.client.Start(ctx); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "backend_start_failed", serrors.LogAttrs(err)...)
		return err
	}
	c.started = true

	if interval := c.source.Current().Drain.Interval; interval > 0 {
		drainCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.stopDrain = cancel
		c.drainDone = make(chan struct{})
		go func() {
			defer close(c.drainDone)
			c.drainer.Run(drainCtx, interval)
		}()
	}

	slog.Info("coordinator_started",
		slog.String("backend", c.client.Name()),
		slog.String("delivery_mode", string(c.policy.Mode())),
		slog.Bool("blocked", c.router.Blocked()))
	return nil
}

// Close stops the scheduled drain and releases handlers and the backend.
// Queued operations that were not drained are dropped.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopDrain != nil {
		c.stopDrain()
		<-c.drainDone
		c.stopDrain = nil
	}
	if idx, del := c.pending.Len(); idx+del > 0 {
		slog.Warn("pending_operations_dropped", slog.Int("index", idx), slog.Int("delete", del))
	}

	err := errors.Join(c.policy.Close(), c.client.Close())
	c.started = false
	return err
}

// Registry returns the mapping registry.
func (c *Coordinator) Registry() *mapping.Registry { return c.registry }

// Client returns the backend client.
func (c *Coordinator) Client() backend.Client { return c.client }

// IndexModel writes m to the backend. It implements delivery.Executor and
// queue.Applier.
func (c *Coordinator) IndexModel(ctx context.Context, m mapping.Model) error {
	if err := c.ensureStarted(ctx, m.Kind()); err != nil {
		return err
	}
	em := c.registry.Mapping(m.Kind())

	body, err := em.Document(m)
	if err != nil {
		return serrors.New(serrors.ErrCodeIndexFailed, "failed to build document", err).
			WithDetail("kind", m.Kind()).WithDetail("key", m.Key())
	}
	if err := c.client.IndexDocument(ctx, em.IndexName, em.TypeName, em.DocumentID(m), body); err != nil {
		return serrors.New(serrors.ErrCodeIndexFailed, "failed to index document", err).
			WithDetail("kind", m.Kind()).WithDetail("key", m.Key())
	}
	return nil
}

// DeleteModel removes m from the backend. Deleting a missing document,
// or from a missing index, succeeds, so nothing is provisioned first.
func (c *Coordinator) DeleteModel(ctx context.Context, m mapping.Model) error {
	em := c.registry.Mapping(m.Kind())

	if err := c.client.DeleteDocument(ctx, em.IndexName, em.TypeName, em.DocumentID(m)); err != nil {
		return serrors.New(serrors.ErrCodeDeleteFailed, "failed to delete document", err).
			WithDetail("kind", m.Kind()).WithDetail("key", m.Key())
	}
	return nil
}

// ensureStarted provisions kind. A failure is logged and returned; the
// caller abandons the write and the kind is retried next time.
func (c *Coordinator) ensureStarted(ctx context.Context, kind string) error {
	err := c.provisioner.EnsureStarted(ctx, kind)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "provision_failed",
			append([]slog.Attr{slog.String("kind", kind)}, serrors.LogAttrs(err)...)...)
	}
	return err
}

// Index sends m through the current delivery policy, bypassing block
// mode. m must be searchable.
func (c *Coordinator) Index(ctx context.Context, m mapping.Model) (delivery.Outcome, error) {
	return c.deliver(ctx, delivery.OpIndex, m)
}

// Delete sends a delete of m through the current delivery policy.
func (c *Coordinator) Delete(ctx context.Context, m mapping.Model) (delivery.Outcome, error) {
	return c.deliver(ctx, delivery.OpDelete, m)
}

func (c *Coordinator) deliver(ctx context.Context, op delivery.Op, m mapping.Model) (delivery.Outcome, error) {
	if !c.classifier.IsSearchable(m) {
		return delivery.Outcome{}, serrors.ContractError(serrors.ErrCodeNotSearchable,
			fmt.Sprintf("kind %s is not searchable", m.Kind())).
			WithSuggestion("Add the kind to index.searchable or implement Searchable")
	}
	ev := delivery.NewEvent(op, m)
	if err := c.ensureStarted(ctx, m.Kind()); err != nil {
		return delivery.Outcome{Event: ev, Err: err}, nil
	}

	out := c.policy.Dispatch(ctx, ev)
	if out.Err != nil && serrors.IsFatal(out.Err) {
		return out, out.Err
	}
	return out, nil
}

// OnLifecycleEvent hands one host notification to the router.
func (c *Coordinator) OnLifecycleEvent(ctx context.Context, name string, payload any) (delivery.Outcome, error) {
	return c.router.OnLifecycleEvent(ctx, name, payload)
}

// Consume routes events from ch until ctx is done or ch is closed.
func (c *Coordinator) Consume(ctx context.Context, ch <-chan router.LifecycleEvent) {
	c.router.Run(ctx, ch)
}

// SetBlockEvents turns global block mode on or off.
func (c *Coordinator) SetBlockEvents(on bool) { c.router.SetBlocked(on) }

// BlockEvents reports whether block mode is on.
func (c *Coordinator) BlockEvents() bool { return c.router.Blocked() }

// DrainAll flushes the pending queues.
func (c *Coordinator) DrainAll(ctx context.Context) (queue.DrainStats, error) {
	return c.drainer.DrainAll(ctx)
}

// Pending returns the pending queue lengths.
func (c *Coordinator) Pending() (index, deletes int) { return c.pending.Len() }

// Query starts a query over kind.
func (c *Coordinator) Query(kind string, filter backend.Filter) *query.Builder {
	return c.queries.Query(kind, filter)
}

// Refresh makes recent writes visible to queries.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.client.RefreshAll(ctx)
}

// SetMappingStrategy swaps the mapping strategy. Every kind is
// provisioned again under its new mapping on next use.
func (c *Coordinator) SetMappingStrategy(s mapping.Strategy) error {
	if err := c.registry.SetStrategy(s); err != nil {
		return err
	}
	c.provisioner.Reset()
	return nil
}

// Status is a snapshot of the engine for admin reporting.
type Status struct {
	Backend       string            `json:"backend"`
	BackendStatus *backend.Status   `json:"backend_status,omitempty"`
	DeliveryMode  string            `json:"delivery_mode"`
	CustomHandler string            `json:"custom_handler,omitempty"`
	Blocked       bool              `json:"blocked"`
	Kinds         []string          `json:"kinds"`
	Started       []string          `json:"started"`
	PendingIndex  int               `json:"pending_index"`
	PendingDelete int               `json:"pending_delete"`
	Native        map[string]string `json:"native,omitempty"`
}

// Status returns a snapshot. Backend details are included when the client
// can report them; failing to get them is logged, not returned.
func (c *Coordinator) Status(ctx context.Context) *Status {
	cfg := c.source.Current()
	st := &Status{
		Backend:      c.client.Name(),
		DeliveryMode: cfg.Delivery.Mode,
		Blocked:      c.router.Blocked(),
		Kinds:        c.registry.Kinds(),
		Started:      c.provisioner.Started(),
		Native:       cfg.Native,
	}
	if cfg.Delivery.Mode == config.DeliveryCustom {
		st.CustomHandler = cfg.Delivery.CustomHandler
	}
	st.PendingIndex, st.PendingDelete = c.pending.Len()

	if sr, ok := c.client.(backend.StatusReporter); ok {
		bs, err := sr.Status(ctx)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "backend_status_failed", serrors.LogAttrs(err)...)
		} else {
			st.BackendStatus = bs
		}
	}
	return st
}
