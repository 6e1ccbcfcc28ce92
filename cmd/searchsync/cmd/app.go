package cmd

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/Aman-CERP/searchsync/internal/config"
	"github.com/Aman-CERP/searchsync/internal/delivery"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/index"
	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/output"
	"github.com/Aman-CERP/searchsync/internal/router"
	"github.com/Aman-CERP/searchsync/internal/store"
	"github.com/Aman-CERP/searchsync/internal/telemetry"
)

// app is the engine as one CLI invocation sees it: the SQLite store, the
// coordinator, and the listener routing store events into the router.
type app struct {
	cfg     *config.Config
	store   *store.Store
	coord   *index.Coordinator
	metrics *telemetry.QueryMetrics
	history *telemetry.SQLiteMetricsStore

	mu       sync.Mutex
	outcomes []routed

	// events, when set, receives store events instead of routing them on
	// the writing goroutine.
	events chan router.LifecycleEvent
}

// routed is one store event and what the router did with it.
type routed struct {
	name    string
	outcome delivery.Outcome
	err     error
}

// openApp loads the configuration, opens the store and starts the
// coordinator. kinds are registered as schemaless document kinds next to
// index.searchable and the kinds already in the store.
func openApp(ctx context.Context, opts *globalOptions, kinds ...string) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := newApp(config.NewStaticSource(cfg), kinds...)
	if err != nil {
		return nil, err
	}
	if err := a.coord.Start(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// newApp builds the app without touching the backend. The backend and
// store are chosen from the configuration src serves now; delivery reads
// src on every event.
func newApp(src config.Source, kinds ...string) (*app, error) {
	cfg := src.Current()
	// The embedded node must outlive the process for put and search to
	// meet across invocations.
	if cfg.Backend.Kind == config.BackendNative && cfg.Backend.IsLocal() && cfg.Backend.DataDir == "" && cfg.Store.Path != "" {
		cfg.Backend.DataDir = filepath.Join(filepath.Dir(cfg.Store.Path), "index")
	}

	registry, err := mapping.NewRegistry(mapping.DefaultStrategy{Prefix: cfg.Index.Prefix})
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Store.Path, registry)
	if err != nil {
		return nil, err
	}

	stored, err := st.Kinds(context.Background())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	for _, group := range [][]string{cfg.Index.Searchable, stored, kinds} {
		for _, kind := range group {
			if err := registry.Register(mapping.DocumentType(kind, nil)); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
	}

	history, err := telemetry.NewSQLiteMetricsStore(st.DB())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	metrics, err := telemetry.NewQueryMetrics(telemetry.DefaultQueryMetricsConfig(), history)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	coord, err := index.NewCoordinator(index.CoordinatorConfig{
		Source:   src,
		Registry: registry,
		Hydrator: st,
		Observer: metrics,
	})
	if err != nil {
		_ = metrics.Close()
		_ = st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, store: st, coord: coord, metrics: metrics, history: history}
	st.OnEvent(a.route)
	return a, nil
}

func (a *app) route(ctx context.Context, name string, payload any) {
	if a.events != nil {
		a.events <- router.LifecycleEvent{Name: name, Payload: payload}
		return
	}
	out, err := a.coord.OnLifecycleEvent(ctx, name, payload)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "route_failed", serrors.LogAttrs(err)...)
	}
	a.mu.Lock()
	a.outcomes = append(a.outcomes, routed{name: name, outcome: out, err: err})
	a.mu.Unlock()
}

// consumeAsync moves routing onto a consumer goroutine fed by a
// buffered channel. The returned function closes the channel and waits
// until every event sent so far has been routed.
func (a *app) consumeAsync(buffer int) (wait func()) {
	a.events = make(chan router.LifecycleEvent, buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.coord.Consume(context.Background(), a.events)
	}()
	return func() {
		close(a.events)
		<-done
	}
}

// lastRouted returns the most recent routing result.
func (a *app) lastRouted() (routed, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.outcomes) == 0 {
		return routed{}, false
	}
	return a.outcomes[len(a.outcomes)-1], true
}

// Close closes the coordinator, flushes query telemetry, then closes
// the store.
func (a *app) Close() error {
	return errors.Join(a.coord.Close(), a.metrics.Close(), a.store.Close())
}

// reportOutcome prints what happened to one routed event.
func reportOutcome(w *output.Writer, r routed) {
	switch {
	case r.err != nil:
		w.Errorf("%s: rejected: %v", r.name, r.err)
	case r.outcome.Ignored:
		w.Warningf("%s: ignored", r.name)
	case r.outcome.Err != nil:
		w.Errorf("%s: delivery failed (%s): %v", r.name, r.outcome.Handler, r.outcome.Err)
	case r.outcome.Queued:
		w.Queuedf("%s: queued (%s)", r.name, r.outcome.Handler)
	default:
		w.Successf("%s: delivered (%s)", r.name, r.outcome.Handler)
	}
}
