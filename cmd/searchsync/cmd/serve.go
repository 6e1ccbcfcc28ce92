package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchsync/internal/config"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/output"
)

// serveEventBuffer is the capacity of the store event channel.
const serveEventBuffer = 256

// maxOpLine bounds one input line.
const maxOpLine = 4 * 1024 * 1024

// serveOp is one line of serve input.
type serveOp struct {
	Op   string          `json:"op"`
	Kind string          `json:"kind"`
	Key  string          `json:"key"`
	Body json.RawMessage `json:"body,omitempty"`
}

func newServeCmd(gopts *globalOptions) *cobra.Command {
	var noDrain bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Apply a stream of entity changes",
		Long: `Read entity changes from stdin, one JSON object per line, and keep the
index in step until stdin closes or the process is interrupted:

  {"op": "put", "kind": "article", "key": "a1", "body": {"title": "..."}}
  {"op": "remove", "kind": "article", "key": "a1"}

Store events are routed on a separate goroutine. The config file is
watched: delivery mode, the block switch and the log level follow
edits without a restart. Pending queues drain on drain.interval and once more on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, gopts, !noDrain)
		},
	}

	cmd.Flags().BoolVar(&noDrain, "no-drain", false, "Drop pending operations on exit instead of draining them")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, gopts *globalOptions, drain bool) error {
	src, err := serveSource(ctx, gopts)
	if err != nil {
		return err
	}
	a, err := newApp(src)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	if err := a.coord.Start(ctx); err != nil {
		return err
	}

	if fs, ok := src.(*config.FileSource); ok {
		fs.OnReload(func(cfg *config.Config) {
			a.coord.SetBlockEvents(cfg.Delivery.BlockEvents)
			gopts.applyLogLevel(cfg)
		})
	}

	w := output.New(cmd.OutOrStdout())
	wait := a.consumeAsync(serveEventBuffer)
	applied, failed := serveInput(ctx, cmd.InOrStdin(), w, a)
	wait()

	slog.Info("serve_input_done", slog.Int("applied", applied), slog.Int("failed", failed))
	w.Successf("Applied %d changes (%d failed)", applied, failed)

	if !drain {
		if idx, del := a.coord.Pending(); idx+del > 0 {
			w.Warningf("%d index and %d delete operations were dropped", idx, del)
		}
		return nil
	}
	// The signal context may be done already; the final drain still runs.
	return drainAndReport(context.WithoutCancel(ctx), w, a)
}

// serveSource watches the config file when there is one to watch.
func serveSource(ctx context.Context, gopts *globalOptions) (config.Source, error) {
	path := gopts.configPath
	if path == "" {
		if _, err := os.Stat(config.ProjectConfigName); err != nil {
			cfg, err := gopts.loadConfig()
			if err != nil {
				return nil, err
			}
			return config.NewStaticSource(cfg), nil
		}
		path = config.ProjectConfigName
	}

	// Rebuilds the logger from the file's logging section.
	if _, err := gopts.loadConfig(); err != nil {
		return nil, err
	}
	fs, err := config.NewFileSource(path)
	if err != nil {
		return nil, err
	}
	if err := fs.Watch(ctx); err != nil {
		return nil, err
	}
	return fs, nil
}

// serveInput applies ops read from in until EOF or ctx is done.
func serveInput(ctx context.Context, in io.Reader, w *output.Writer, a *app) (applied, failed int) {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxOpLine)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for n := 1; ; n++ {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return applied, failed
		case line, ok = <-lines:
		}
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if err := applyOp(ctx, a, line); err != nil {
			failed++
			w.Errorf("line %d: %v", n, err)
			slog.LogAttrs(ctx, slog.LevelWarn, "serve_op_failed", append(serrors.LogAttrs(err), slog.Int("line", n))...)
			continue
		}
		applied++
	}

	select {
	case err := <-scanErr:
		if err != nil {
			failed++
			w.Errorf("reading input: %v", err)
		}
	default:
	}
	return applied, failed
}

func applyOp(ctx context.Context, a *app, line string) error {
	var op serveOp
	if err := json.Unmarshal([]byte(line), &op); err != nil {
		return fmt.Errorf("invalid change: %w", err)
	}
	if op.Kind == "" || op.Key == "" {
		return fmt.Errorf("change needs kind and key")
	}
	if reg := a.coord.Registry(); !slices.Contains(reg.Kinds(), op.Kind) {
		if err := reg.Register(mapping.DocumentType(op.Kind, nil)); err != nil {
			return err
		}
	}

	switch op.Op {
	case "put":
		var fields map[string]any
		if err := json.Unmarshal(op.Body, &fields); err != nil || fields == nil {
			return fmt.Errorf("body of %s/%s must be a JSON object", op.Kind, op.Key)
		}
		return a.store.Save(ctx, &mapping.Document{DocKind: op.Kind, DocKey: op.Key, Fields: fields})
	case "remove":
		_, err := a.store.Remove(ctx, op.Kind, op.Key)
		return err
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}
