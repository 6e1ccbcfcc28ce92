package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// IndexInfo is the document count of one backend index.
type IndexInfo struct {
	Name      string `json:"name"`
	Documents uint64 `json:"documents"`
}

// StatusInfo contains the engine state shown by `searchsync status`.
type StatusInfo struct {
	Backend       string            `json:"backend"`
	Endpoints     []string          `json:"endpoints,omitempty"`
	Reachable     bool              `json:"reachable"`
	DeliveryMode  string            `json:"delivery_mode"`
	CustomHandler string            `json:"custom_handler,omitempty"`
	Blocked       bool              `json:"blocked"`
	Kinds         []string          `json:"kinds"`
	Started       []string          `json:"started"`
	PendingIndex  int               `json:"pending_index"`
	PendingDelete int               `json:"pending_delete"`
	Indexes       []IndexInfo       `json:"indexes,omitempty"`
	Native        map[string]string `json:"native,omitempty"`
	Queries       *QueryStats       `json:"queries,omitempty"`
}

// QueryStats summarizes recorded queries.
type QueryStats struct {
	Days        int              `json:"days"`
	Kinds       []KindQueryStats `json:"kinds,omitempty"`
	TopTerms    []TermStat       `json:"top_terms,omitempty"`
	ZeroResults []string         `json:"zero_results,omitempty"`
	Latency     []TermStat       `json:"latency,omitempty"`
}

// KindQueryStats are the query counters of one kind.
type KindQueryStats struct {
	Kind          string `json:"kind"`
	Queries       int64  `json:"queries"`
	ZeroResults   int64  `json:"zero_results"`
	Failures      int64  `json:"failures"`
	HydrationGaps int64  `json:"hydration_gaps"`
}

// TermStat is a labelled count.
type TermStat struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// StatusRenderer displays engine status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays status info.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("searchsync status"))

	_, _ = fmt.Fprintln(r.out, "  Backend:")
	_, _ = fmt.Fprintf(r.out, "    Kind:      %s\n", info.Backend)
	if len(info.Endpoints) > 0 {
		_, _ = fmt.Fprintf(r.out, "    Endpoints: %s\n", strings.Join(info.Endpoints, ", "))
	}
	state := "unreachable"
	if info.Reachable {
		state = "ready"
	}
	_, _ = fmt.Fprintf(r.out, "    Status:    %s\n", r.renderStatus(state))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Delivery:")
	mode := info.DeliveryMode
	if info.CustomHandler != "" {
		mode += " (" + info.CustomHandler + ")"
	}
	_, _ = fmt.Fprintf(r.out, "    Mode:      %s\n", mode)
	blocked := "off"
	if info.Blocked {
		blocked = "on"
	}
	_, _ = fmt.Fprintf(r.out, "    Blocked:   %s\n", r.renderStatus(blocked))
	_, _ = fmt.Fprintf(r.out, "    Pending:   %d index, %d delete\n", info.PendingIndex, info.PendingDelete)
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Kinds:")
	started := make(map[string]bool, len(info.Started))
	for _, k := range info.Started {
		started[k] = true
	}
	if len(info.Kinds) == 0 {
		_, _ = fmt.Fprintln(r.out, "    "+r.styles.Dim.Render("none registered"))
	}
	for _, k := range info.Kinds {
		state := r.styles.Dim.Render("not provisioned")
		if started[k] {
			state = r.styles.Success.Render("provisioned")
		}
		_, _ = fmt.Fprintf(r.out, "    %-12s %s\n", k, state)
	}

	if len(info.Indexes) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Indexes:")
		for _, idx := range info.Indexes {
			_, _ = fmt.Fprintf(r.out, "    %-20s %d docs\n", idx.Name, idx.Documents)
		}
	}

	if len(info.Native) > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "  Native settings:")
		keys := make([]string, 0, len(info.Native))
		for k := range info.Native {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			_, _ = fmt.Fprintf(r.out, "    %s = %s\n", k, info.Native[k])
		}
	}

	if q := info.Queries; q != nil {
		r.renderQueries(q)
	}
	return nil
}

func (r *StatusRenderer) renderQueries(q *QueryStats) {
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "  Queries (last %d days):\n", q.Days)
	if len(q.Kinds) == 0 {
		_, _ = fmt.Fprintln(r.out, "    "+r.styles.Dim.Render("none recorded"))
		return
	}
	for _, k := range q.Kinds {
		line := fmt.Sprintf("    %-12s %d queries, %d zero-result, %d failed", k.Kind, k.Queries, k.ZeroResults, k.Failures)
		if k.HydrationGaps > 0 {
			line += ", " + r.styles.Warning.Render(fmt.Sprintf("%d with stale hits", k.HydrationGaps))
		}
		_, _ = fmt.Fprintln(r.out, line)
	}
	if len(q.Latency) > 0 {
		parts := make([]string, len(q.Latency))
		for i, b := range q.Latency {
			parts[i] = fmt.Sprintf("%s=%d", b.Term, b.Count)
		}
		_, _ = fmt.Fprintf(r.out, "    Latency:     %s\n", strings.Join(parts, " "))
	}
	if len(q.TopTerms) > 0 {
		parts := make([]string, len(q.TopTerms))
		for i, t := range q.TopTerms {
			parts[i] = fmt.Sprintf("%s (%d)", t.Term, t.Count)
		}
		_, _ = fmt.Fprintf(r.out, "    Top terms:   %s\n", strings.Join(parts, ", "))
	}
	for _, z := range q.ZeroResults {
		_, _ = fmt.Fprintf(r.out, "    No results:  %s\n", r.styles.Dim.Render(z))
	}
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status word with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready", "off":
		return r.styles.Success.Render(status)
	case "on":
		return r.styles.Warning.Render(status)
	case "unreachable":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}
