package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// Applier performs the backend write of one queued model.
type Applier interface {
	IndexModel(ctx context.Context, m mapping.Model) error
	DeleteModel(ctx context.Context, m mapping.Model) error
}

// DrainStats reports one drain.
type DrainStats struct {
	Indexed int `json:"indexed"`
	Deleted int `json:"deleted"`

	// RemainingIndex and RemainingDelete are left for a later drain.
	RemainingIndex  int `json:"remaining_index"`
	RemainingDelete int `json:"remaining_delete"`

	Duration time.Duration `json:"duration"`
}

// Drainer empties Pending into an Applier. Drains are serialized.
type Drainer struct {
	pending *Pending
	applier Applier
	limiter *rate.Limiter

	mu sync.Mutex
}

// NewDrainer returns a drainer. opsPerSecond bounds the drain rate; zero
// or less means unlimited.
func NewDrainer(pending *Pending, applier Applier, opsPerSecond float64) *Drainer {
	limit := rate.Inf
	if opsPerSecond > 0 {
		limit = rate.Limit(opsPerSecond)
	}
	return &Drainer{
		pending: pending,
		applier: applier,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// DrainAll applies every index operation queued when it starts, then every
// delete queued when it starts. Operations queued meanwhile wait for the
// next drain.
//
// The first failure stops the drain: it is logged, the failed item stays
// at the head of its queue, and an ErrCodeDrainIncomplete error is
// returned alongside the stats of what was applied.
func (d *Drainer) DrainAll(ctx context.Context) (DrainStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	indexN, deleteN := d.pending.Len()
	var stats DrainStats
	finish := func(err error) (DrainStats, error) {
		stats.RemainingIndex, stats.RemainingDelete = d.pending.Len()
		stats.Duration = time.Since(start)
		if err != nil {
			slog.Warn("drain_stopped",
				slog.Int("indexed", stats.Indexed),
				slog.Int("deleted", stats.Deleted),
				slog.Int("remaining_index", stats.RemainingIndex),
				slog.Int("remaining_delete", stats.RemainingDelete),
				slog.String("error", err.Error()))
			return stats, err
		}
		if stats.Indexed+stats.Deleted > 0 {
			slog.Info("drain_completed",
				slog.Int("indexed", stats.Indexed),
				slog.Int("deleted", stats.Deleted),
				slog.Duration("duration", stats.Duration))
		}
		return stats, nil
	}

	if err := d.phase(ctx, &d.pending.index, indexN, "index", d.applier.IndexModel, &stats.Indexed); err != nil {
		return finish(err)
	}
	if err := d.phase(ctx, &d.pending.deletes, deleteN, "delete", d.applier.DeleteModel, &stats.Deleted); err != nil {
		return finish(err)
	}
	return finish(nil)
}

// phase applies at most limit items from the head of q.
func (d *Drainer) phase(ctx context.Context, q *[]mapping.Model, limit int, op string, apply func(context.Context, mapping.Model) error, done *int) error {
	for range limit {
		m, ok := d.pending.head(q)
		if !ok {
			return nil
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return serrors.New(serrors.ErrCodeDrainIncomplete, "drain interrupted", err)
		}
		if err := apply(ctx, m); err != nil {
			return serrors.New(serrors.ErrCodeDrainIncomplete,
				fmt.Sprintf("drain stopped at %s of %s/%s", op, m.Kind(), m.Key()), err)
		}
		d.pending.pop(q)
		*done++
	}
	return nil
}

// Run drains every interval until ctx is cancelled. Failed drains are
// logged and retried on the next tick.
func (d *Drainer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	slog.Info("drain_scheduled", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = d.DrainAll(ctx)
		}
	}
}
