package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/query"
	"github.com/Aman-CERP/searchsync/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	from       int
	size       int
	sorts      []string // field, or -field for descending
	facets     []string // field, or name=field
	facetSize  int
	mapper     bool // decode hits from the index instead of the store
	jsonOutput bool
}

func newSearchCmd(gopts *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <kind> [query]",
		Short: "Search one entity kind",
		Long: `Search the index of one entity kind and hydrate the hits from the store.

The query is a query string ("title:fox AND year:>2000"), a JSON query object
({"match": {"title": "fox"}}), or empty / "*" to match everything.

Examples:
  searchsync search article fox
  searchsync search article '{"term": {"status": "draft"}}' --sort -year
  searchsync search article "*" --facet status --size 0`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, gopts, args[0], strings.Join(args[1:], " "), opts)
		},
	}

	cmd.Flags().IntVar(&opts.from, "from", -1, "Offset of the first hit (default: backend default)")
	cmd.Flags().IntVarP(&opts.size, "size", "n", -1, "Number of hits (default: backend default)")
	cmd.Flags().StringSliceVar(&opts.sorts, "sort", nil, "Sort by field, prefix with - for descending (repeatable)")
	cmd.Flags().StringSliceVar(&opts.facets, "facet", nil, "Count terms of a field, as field or name=field (repeatable)")
	cmd.Flags().IntVar(&opts.facetSize, "facet-size", 10, "Buckets per facet")
	cmd.Flags().BoolVar(&opts.mapper, "mapper", false, "Decode results from index documents instead of loading them from the store")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, gopts *globalOptions, kind, q string, opts searchOptions) error {
	filter, err := parseQuery(q)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, gopts, kind)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	b := buildQuery(a.coord.Query(kind, filter), opts)

	slog.Info("search_started", slog.String("kind", kind), slog.String("query", q))
	res, err := b.Fetch(ctx)
	if err != nil {
		return err
	}
	slog.Info("search_complete", slog.String("kind", kind), slog.Int("results", res.Count), slog.Uint64("total", res.Total))

	info, err := resultsInfo(kind, res)
	if err != nil {
		return err
	}
	renderer := ui.NewResultsRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if opts.jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// parseQuery turns the CLI query argument into a filter.
func parseQuery(q string) (backend.Filter, error) {
	q = strings.TrimSpace(q)
	switch {
	case q == "" || q == "*":
		return backend.MatchAll(), nil
	case strings.HasPrefix(q, "{"):
		f, err := backend.ParseDSL(json.RawMessage(q))
		if err != nil {
			return backend.Filter{}, fmt.Errorf("invalid query object: %w", err)
		}
		return f, nil
	default:
		return backend.QueryString(q), nil
	}
}

func buildQuery(b *query.Builder, opts searchOptions) *query.Builder {
	if opts.from >= 0 {
		b.From(opts.from)
	}
	if opts.size >= 0 {
		b.Size(opts.size)
	}
	for _, s := range opts.sorts {
		field, desc := strings.CutPrefix(s, "-")
		b.AddSort(field, desc)
	}
	for _, f := range opts.facets {
		name, field, ok := strings.Cut(f, "=")
		if !ok {
			field = name
		}
		b.AddFacet(name, field, opts.facetSize)
	}
	if opts.mapper {
		b.UseMapper(true).Hydrate(false)
	}
	return b
}

// resultsInfo prepares results for display. Models other than documents
// are shown through their JSON encoding.
func resultsInfo(kind string, res *query.SearchResults) (ui.ResultsInfo, error) {
	info := ui.ResultsInfo{Kind: kind, Count: res.Count, Total: res.Total}
	for _, m := range res.Results {
		fields, err := modelFields(m)
		if err != nil {
			return info, err
		}
		info.Hits = append(info.Hits, ui.Hit{Key: m.Key(), Fields: fields})
	}
	if len(res.Facets) > 0 {
		info.Facets = make(map[string][]ui.FacetCount, len(res.Facets))
		for name, terms := range res.Facets {
			for _, t := range terms {
				info.Facets[name] = append(info.Facets[name], ui.FacetCount{Term: t.Term, Count: t.Count})
			}
		}
	}
	return info, nil
}

func modelFields(m mapping.Model) (map[string]any, error) {
	if d, ok := m.(*mapping.Document); ok {
		return d.Fields, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	delete(fields, "key")
	return fields, nil
}
