package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/ui"
)

// Lister loads every stored entity of a kind.
type Lister interface {
	All(ctx context.Context, kind string) ([]mapping.Model, error)
}

// RunnerConfig configures a reindex run.
type RunnerConfig struct {
	// Kind is the entity kind to reindex.
	Kind string

	// Drain flushes the pending queues after every entity was delivered,
	// so queued or blocked deliveries reach the backend before Run returns.
	Drain bool
}

// RunnerResult contains the outcome of a reindex run.
type RunnerResult struct {
	Kind string

	// Loaded is the number of entities read from the store.
	Loaded int

	// Indexed were written to the backend immediately.
	Indexed int

	// Queued went to the pending queues or a custom handler queue.
	Queued int

	// Failed could not be delivered.
	Failed int

	// Drained is the number of queued operations applied by the drain.
	Drained int

	Duration time.Duration
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Renderer for progress display (required).
	Renderer ui.Renderer

	// Coordinator delivers the entities (required).
	Coordinator *Coordinator

	// Store lists the entities to reindex (required).
	Store Lister
}

// Runner re-delivers every stored entity of a kind through the
// coordinator. It is the bulk path used to seed a fresh index or recover
// from drift.
type Runner struct {
	renderer ui.Renderer
	coord    *Coordinator
	store    Lister
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Runner{renderer: deps.Renderer, coord: deps.Coordinator, store: deps.Store}, nil
}

// Run reindexes cfg.Kind. Delivery failures are counted and reported to
// the renderer; only fatal errors (such as an unsearchable kind) abort.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	res := &RunnerResult{Kind: cfg.Kind}

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageLoading, Kind: cfg.Kind, Message: "loading " + cfg.Kind})
	models, err := r.store.All(ctx, cfg.Kind)
	if err != nil {
		return nil, err
	}
	res.Loaded = len(models)

	for i, m := range models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := r.coord.Index(ctx, m)
		if err != nil {
			return nil, err
		}
		switch {
		case out.Err != nil:
			res.Failed++
			r.renderer.AddError(ui.ErrorEvent{Key: m.Key(), Err: out.Err, IsWarn: true})
		case out.Queued:
			res.Queued++
		default:
			res.Indexed++
		}
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageIndexing,
			Kind:    cfg.Kind,
			Current: i + 1,
			Total:   len(models),
			Key:     m.Key(),
		})
	}

	if cfg.Drain {
		idx, del := r.coord.Pending()
		r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageDraining, Kind: cfg.Kind, Total: idx + del})
		stats, err := r.coord.DrainAll(ctx)
		res.Drained = stats.Indexed + stats.Deleted
		if err != nil {
			r.renderer.AddError(ui.ErrorEvent{Err: err, IsWarn: true})
		}
	}

	res.Duration = time.Since(start)
	r.renderer.Complete(ui.CompletionStats{
		Kind:     res.Kind,
		Loaded:   res.Loaded,
		Indexed:  res.Indexed,
		Queued:   res.Queued,
		Failed:   res.Failed,
		Drained:  res.Drained,
		Duration: res.Duration,
	})

	slog.Info("reindex_completed",
		slog.String("kind", res.Kind),
		slog.Int("loaded", res.Loaded),
		slog.Int("indexed", res.Indexed),
		slog.Int("queued", res.Queued),
		slog.Int("failed", res.Failed),
		slog.Int("drained", res.Drained),
		slog.Duration("duration", res.Duration))
	return res, nil
}
