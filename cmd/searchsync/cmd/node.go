package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchsync/internal/node"
)

func newNodeCmd(opts *globalOptions) *cobra.Command {
	var (
		listen     string
		httpListen string
		dataDir    string
	)

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a search node",
		Long: `Run a standalone search node serving the native node protocol and,
unless --http-listen is empty, the Elasticsearch-compatible REST API.

Point backend.hosts (native) or backend.urls (rest) of other processes at it.
The node runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Node.Listen = listen
			}
			if cmd.Flags().Changed("http-listen") {
				cfg.Node.HTTPListen = httpListen
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.Node.DataDir = dataDir
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Node listening on %s", cfg.Node.Listen)
			if cfg.Node.HTTPListen != "" {
				_, _ = fmt.Fprintf(out, " (REST on %s)", cfg.Node.HTTPListen)
			}
			_, _ = fmt.Fprintln(out)
			return node.Run(ctx, node.ConfigFrom(cfg))
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Node protocol address (default from node.listen)")
	cmd.Flags().StringVar(&httpListen, "http-listen", "", "REST address, empty to disable (default from node.http_listen)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Persist indexes here instead of in memory")

	return cmd
}
