package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchsync/internal/index"
	"github.com/Aman-CERP/searchsync/internal/ui"
)

func newReindexCmd(gopts *globalOptions) *cobra.Command {
	var (
		plain bool
		drain bool
	)

	cmd := &cobra.Command{
		Use:   "reindex <kind>",
		Short: "Re-deliver every stored entity of a kind",
		Long: `Load every stored entity of a kind and send it through delivery again.

Use it to seed a new index or a new index prefix, or to recover after the
index drifted from the store. Queued deliveries are drained at the end
unless --drain=false is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReindex(cmd.Context(), cmd, gopts, args[0], plain, drain)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Plain line output, no progress bar")
	cmd.Flags().BoolVar(&drain, "drain", true, "Drain the pending queues after delivering")

	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, gopts *globalOptions, kind string, plain, drain bool) error {
	a, err := openApp(ctx, gopts, kind)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plain),
		ui.WithNoColor(ui.DetectNoColor())))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start renderer: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer:    renderer,
		Coordinator: a.coord,
		Store:       a.store,
	})
	if err != nil {
		return err
	}

	res, err := runner.Run(ctx, index.RunnerConfig{Kind: kind, Drain: drain})
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d %s entities failed to index", res.Failed, res.Loaded, kind)
	}
	return a.coord.Refresh(ctx)
}
