package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// maxFieldWidth truncates long field values in result listings.
const maxFieldWidth = 60

// Hit is one rendered search result.
type Hit struct {
	Key    string         `json:"key"`
	Fields map[string]any `json:"fields,omitempty"`
}

// FacetCount is one facet bucket.
type FacetCount struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// ResultsInfo is a query outcome prepared for display.
type ResultsInfo struct {
	Kind   string                  `json:"kind"`
	Count  int                     `json:"count"`
	Total  uint64                  `json:"total"`
	Hits   []Hit                   `json:"hits"`
	Facets map[string][]FacetCount `json:"facets,omitempty"`
}

// ResultsRenderer displays search results.
type ResultsRenderer struct {
	out    io.Writer
	styles Styles
}

// NewResultsRenderer creates a results renderer.
func NewResultsRenderer(out io.Writer, noColor bool) *ResultsRenderer {
	return &ResultsRenderer{out: out, styles: GetStyles(noColor)}
}

// Render lists the hits with their fields, then the facets.
func (r *ResultsRenderer) Render(info ResultsInfo) error {
	summary := fmt.Sprintf("%d %s result(s)", info.Count, info.Kind)
	if info.Total != uint64(info.Count) {
		summary += r.styles.Dim.Render(fmt.Sprintf(" of %d matches", info.Total))
	}
	_, _ = fmt.Fprintln(r.out, r.styles.Header.Render(summary))

	for i, h := range info.Hits {
		_, _ = fmt.Fprintf(r.out, "\n%s %s\n", r.styles.Dim.Render(fmt.Sprintf("%2d.", i+1)), r.styles.Key.Render(h.Key))
		names := make([]string, 0, len(h.Fields))
		for name := range h.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(r.out, "    %s %s\n", r.styles.Label.Render(name+":"), truncate(fmt.Sprint(h.Fields[name]), maxFieldWidth))
		}
	}

	if len(info.Facets) > 0 {
		names := make([]string, 0, len(info.Facets))
		for name := range info.Facets {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(r.out, "\n%s\n", r.styles.Stage.Render("facet "+name))
			for _, b := range info.Facets[name] {
				_, _ = fmt.Fprintf(r.out, "    %-24s %d\n", b.Term, b.Count)
			}
		}
	}
	return nil
}

// RenderJSON outputs results as JSON.
func (r *ResultsRenderer) RenderJSON(info ResultsInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
