package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	stage  Stage
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer. Indexing progress is printed on
// stage changes and then every 10%, not once per entity.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := event.Stage != r.stage
	r.stage = event.Stage

	if event.Total > 0 {
		step := max(event.Total/10, 1)
		if !changed && event.Current%step != 0 && event.Current != event.Total {
			return
		}
		_, _ = fmt.Fprintf(r.out, "[%s] %s %d/%d\n", event.Stage.Icon(), event.Kind, event.Current, event.Total)
		return
	}
	msg := event.Message
	if msg == "" {
		msg = event.Kind
	}
	_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.Key != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Key, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = StageComplete
	_, _ = fmt.Fprintf(r.out, "Complete: %s: %d loaded, %d indexed, %d queued, %d failed",
		stats.Kind, stats.Loaded, stats.Indexed, stats.Queued, stats.Failed)
	if stats.Drained > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d drained", stats.Drained)
	}
	_, _ = fmt.Fprintf(r.out, " in %s\n", stats.Duration.Round(100*time.Millisecond))
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}
