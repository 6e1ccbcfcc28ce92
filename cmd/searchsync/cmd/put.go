package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/output"
)

// writeOptions are the flags shared by put and remove.
type writeOptions struct {
	block bool
	drain bool
}

func (o *writeOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.block, "block", false, "Divert the change to the pending queues instead of delivering it")
	cmd.Flags().BoolVar(&o.drain, "drain", false, "Drain the pending queues before exiting")
}

func newPutCmd(gopts *globalOptions) *cobra.Command {
	var opts writeOptions

	cmd := &cobra.Command{
		Use:   "put <kind> <key> <json>",
		Short: "Store an entity and index it",
		Long: `Store an entity in the primary store. The store announces the write and
the router indexes it according to delivery.mode.

Example:
  searchsync put article a1 '{"title": "The quick brown fox", "year": 2021}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields map[string]any
			if err := json.Unmarshal([]byte(args[2]), &fields); err != nil {
				return fmt.Errorf("entity body must be a JSON object: %w", err)
			}
			doc := &mapping.Document{DocKind: args[0], DocKey: args[1], Fields: fields}
			return runWrite(cmd.Context(), cmd, gopts, opts, args[0], func(ctx context.Context, a *app) error {
				return a.store.Save(ctx, doc)
			})
		},
	}
	opts.register(cmd)
	return cmd
}

func newRemoveCmd(gopts *globalOptions) *cobra.Command {
	var opts writeOptions

	cmd := &cobra.Command{
		Use:     "remove <kind> <key>",
		Aliases: []string{"rm"},
		Short:   "Remove an entity and delete its document",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd.Context(), cmd, gopts, opts, args[0], func(ctx context.Context, a *app) error {
				_, err := a.store.Remove(ctx, args[0], args[1])
				return err
			})
		},
	}
	opts.register(cmd)
	return cmd
}

// runWrite performs one store mutation and reports how it was routed.
func runWrite(ctx context.Context, cmd *cobra.Command, gopts *globalOptions, opts writeOptions, kind string, write func(context.Context, *app) error) error {
	a, err := openApp(ctx, gopts, kind)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if opts.block {
		a.coord.SetBlockEvents(true)
	}

	if err := write(ctx, a); err != nil {
		return err
	}

	w := output.New(cmd.OutOrStdout())
	r, ok := a.lastRouted()
	if ok {
		reportOutcome(w, r)
		if r.err != nil {
			return r.err
		}
	}

	if opts.drain {
		return drainAndReport(ctx, w, a)
	}
	if idx, del := a.coord.Pending(); idx+del > 0 {
		w.Warningf("%d index and %d delete operations were left pending and are dropped on exit; use --drain to apply them", idx, del)
	}
	return nil
}

func drainAndReport(ctx context.Context, w *output.Writer, a *app) error {
	stats, err := a.coord.DrainAll(ctx)
	line := fmt.Sprintf("Drained: %d indexed, %d deleted (%d/%d remaining) in %s",
		stats.Indexed, stats.Deleted, stats.RemainingIndex, stats.RemainingDelete, stats.Duration.Round(time.Millisecond))
	if err != nil {
		w.Errorf("%s", line)
		return err
	}
	w.Successf("%s", line)
	return nil
}
