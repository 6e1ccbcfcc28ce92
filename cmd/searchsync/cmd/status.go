package cmd

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchsync/internal/config"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/index"
	"github.com/Aman-CERP/searchsync/internal/telemetry"
	"github.com/Aman-CERP/searchsync/internal/ui"
)

// Query statistics shown by status cover this many days and list at most
// this many terms and zero-result queries.
const (
	queryStatsDays  = 7
	queryStatsLimit = 5
)

func newStatusCmd(gopts *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend, delivery and index status",
		Long: `Display the engine state:
  - Backend kind, endpoints and reachability
  - Delivery mode, block switch and pending operations
  - Registered and provisioned kinds
  - Document counts per index
  - Query statistics of the last 7 days`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, gopts, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, gopts *globalOptions, jsonOutput bool) error {
	cfg, err := gopts.loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(config.NewStaticSource(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// An unreachable backend is part of the status, not a failure.
	reachable := true
	if err := a.coord.Start(ctx); err != nil {
		reachable = false
		slog.LogAttrs(ctx, slog.LevelWarn, "status_backend_unreachable", serrors.LogAttrs(err)...)
	}

	info := statusInfo(a.coord.Status(ctx), reachable)
	if report, err := telemetry.LoadReport(a.history, queryStatsDays, queryStatsLimit); err != nil {
		slog.Warn("status_query_stats_unavailable", slog.String("error", err.Error()))
	} else {
		info.Queries = queryStats(report)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func statusInfo(st *index.Status, reachable bool) ui.StatusInfo {
	info := ui.StatusInfo{
		Backend:       st.Backend,
		Reachable:     reachable,
		DeliveryMode:  st.DeliveryMode,
		CustomHandler: st.CustomHandler,
		Blocked:       st.Blocked,
		Kinds:         st.Kinds,
		Started:       st.Started,
		PendingIndex:  st.PendingIndex,
		PendingDelete: st.PendingDelete,
		Native:        st.Native,
	}
	if bs := st.BackendStatus; bs != nil {
		info.Endpoints = bs.Endpoints
		for _, idx := range bs.Indexes {
			info.Indexes = append(info.Indexes, ui.IndexInfo{Name: idx.Name, Documents: idx.Documents})
		}
	}
	return info
}

func queryStats(r *telemetry.Report) *ui.QueryStats {
	qs := &ui.QueryStats{Days: queryStatsDays}
	for kind, k := range r.Kinds {
		qs.Kinds = append(qs.Kinds, ui.KindQueryStats{
			Kind:          kind,
			Queries:       k.Queries,
			ZeroResults:   k.ZeroResults,
			Failures:      k.Failures,
			HydrationGaps: k.HydrationGaps,
		})
	}
	slices.SortFunc(qs.Kinds, func(a, b ui.KindQueryStats) int { return strings.Compare(a.Kind, b.Kind) })
	for _, t := range r.TopTerms {
		qs.TopTerms = append(qs.TopTerms, ui.TermStat{Term: t.Term, Count: t.Count})
	}
	for _, z := range r.ZeroResultQueries {
		qs.ZeroResults = append(qs.ZeroResults, z.Kind+": "+z.Query)
	}
	for _, b := range []telemetry.LatencyBucket{telemetry.BucketP10, telemetry.BucketP50, telemetry.BucketP100, telemetry.BucketP500, telemetry.BucketP1000} {
		if n := r.LatencyDistribution[b]; n > 0 {
			qs.Latency = append(qs.Latency, ui.TermStat{Term: string(b), Count: n})
		}
	}
	return qs
}
