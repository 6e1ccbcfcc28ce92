package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// barWidth is the width of the progress bar in cells.
const barWidth = 30

// StyledRenderer redraws a single colored progress line on a terminal and
// prints a summary panel when the run completes.
type StyledRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	styles  Styles
	tracker *ProgressTracker
	drawn   bool
}

// NewStyledRenderer creates a styled renderer.
func NewStyledRenderer(cfg Config) *StyledRenderer {
	return &StyledRenderer{
		out:     cfg.Output,
		styles:  GetStyles(cfg.NoColor || DetectNoColor()),
		tracker: NewProgressTracker(),
	}
}

// Start implements Renderer.
func (r *StyledRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *StyledRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Apply(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.redraw()
}

// AddError implements Renderer. The progress line is cleared so the error
// stays visible above it.
func (r *StyledRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLine()

	style, prefix := r.styles.Error, "✗"
	if event.IsWarn {
		style, prefix = r.styles.Warning, "⚠"
	}
	msg := fmt.Sprint(event.Err)
	if event.Key != "" {
		msg = event.Key + ": " + msg
	}
	_, _ = fmt.Fprintln(r.out, style.Render(prefix+" "+msg))
	r.redraw()
}

// Complete implements Renderer.
func (r *StyledRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLine()

	rows := []string{
		r.row("Loaded", fmt.Sprint(stats.Loaded)),
		r.row("Indexed", r.styles.Success.Render(fmt.Sprint(stats.Indexed))),
	}
	if stats.Queued > 0 {
		rows = append(rows, r.row("Queued", fmt.Sprint(stats.Queued)))
	}
	if stats.Drained > 0 {
		rows = append(rows, r.row("Drained", fmt.Sprint(stats.Drained)))
	}
	if stats.Failed > 0 {
		rows = append(rows, r.row("Failed", r.styles.Error.Render(fmt.Sprint(stats.Failed))))
	}
	rows = append(rows, r.row("Duration", formatDuration(stats.Duration)))

	title := r.styles.Header.Render("Reindexed " + stats.Kind)
	_, _ = fmt.Fprintln(r.out, lipgloss.JoinVertical(lipgloss.Left, title, r.styles.Panel.Render(strings.Join(rows, "\n"))))
}

// Stop implements Renderer.
func (r *StyledRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drawn {
		_, _ = fmt.Fprintln(r.out)
		r.drawn = false
	}
	return nil
}

func (r *StyledRenderer) row(label, value string) string {
	return r.styles.Label.Render(fmt.Sprintf("%-9s", label)) + " " + value
}

// redraw must be called with r.mu held.
func (r *StyledRenderer) redraw() {
	st := r.tracker.Stats()
	line := r.styles.Stage.Render(fmt.Sprintf("%-8s", st.Stage.String())) + " " + st.Kind
	if st.Total > 0 {
		filled := int(st.Progress * barWidth)
		bar := r.styles.Active.Render(strings.Repeat("█", filled)) +
			r.styles.Dim.Render(strings.Repeat("░", barWidth-filled))
		line += fmt.Sprintf(" %s %3.0f%% %s", bar, st.Progress*100,
			r.styles.Label.Render(fmt.Sprintf("%d/%d", st.Current, st.Total)))
		if st.Speed > 0 {
			line += r.styles.Label.Render(fmt.Sprintf("  %.0f/s", st.AvgSpeed))
		}
		if st.ETA > 0 {
			line += r.styles.Label.Render("  ETA " + formatDuration(st.ETA))
		}
	}
	_, _ = fmt.Fprint(r.out, "\r\x1b[2K"+line)
	r.drawn = true
}

// clearLine must be called with r.mu held.
func (r *StyledRenderer) clearLine() {
	if r.drawn {
		_, _ = fmt.Fprint(r.out, "\r\x1b[2K")
		r.drawn = false
	}
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
