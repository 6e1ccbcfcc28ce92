// Package cmd provides the CLI commands for searchsync.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchsync/internal/config"
	"github.com/Aman-CERP/searchsync/internal/logging"
	"github.com/Aman-CERP/searchsync/internal/profiling"
	"github.com/Aman-CERP/searchsync/pkg/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	debug      bool
	profiles   profiling.Options

	// command is the running subcommand, stamped on every log record.
	command string

	// level is shared by every logger this process installs, so a config
	// reload can change it.
	level slog.LevelVar

	loggingCleanup func()
	profiler       *profiling.Session

	// stderr receives warnings that cannot go to the log.
	stderr       io.Writer
	warnedNoFile bool
}

// NewRootCmd creates the root command for the searchsync CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "searchsync",
		Short: "Keep a search index in step with a primary store",
		Long: `searchsync mirrors entities from a primary store into a search backend.

Writes to the store are turned into index and delete operations that run
immediately, wait in pending queues, or go to a named delivery handler.
Searches run on the backend and are hydrated back from the store.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("searchsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default: ./searchsync.yaml if present)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to stderr and ~/.searchsync/logs/")

	cmd.PersistentFlags().StringVar(&opts.profiles.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profiles.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profiles.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		opts.command = c.Name()
		opts.stderr = c.ErrOrStderr()
		if err := opts.startLogging(); err != nil {
			return err
		}
		return opts.startProfiling()
	}
	cmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		err := opts.stopProfiling()
		opts.stopLogging()
		return err
	}

	cmd.AddCommand(newNodeCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newPutCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRemoveCmd(opts))
	cmd.AddCommand(newReindexCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the JSON file logger. Debug mode also mirrors
// records to stderr; otherwise stderr stays clean for command output.
func (o *globalOptions) startLogging() error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if o.debug {
		cfg = logging.DebugConfig()
	}
	if err := o.setupLogging(cfg); err != nil && o.debug {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	if o.debug {
		slog.Info("debug_logging_enabled", slog.String("log_file", cfg.FilePath))
	}
	return nil
}

func (o *globalOptions) setupLogging(cfg logging.Config) error {
	if o.command != "" {
		cfg.Attrs = append(cfg.Attrs, slog.String("command", o.command))
	}
	cfg.LevelVar = &o.level
	_, cleanup, err := logging.Setup(cfg)
	if err != nil {
		// No writable log directory: keep the current logger.
		slog.Debug("file_logging_unavailable", slog.String("error", err.Error()))
		return err
	}
	o.stopLogging()
	o.loggingCleanup = cleanup
	return nil
}

func (o *globalOptions) startProfiling() error {
	if !o.profiles.Enabled() {
		return nil
	}
	s, err := profiling.Start(o.profiles)
	if err != nil {
		return err
	}
	o.profiler = s
	return nil
}

func (o *globalOptions) stopProfiling() error {
	if o.profiler == nil {
		return nil
	}
	err := o.profiler.Stop()
	o.profiler = nil
	return err
}

func (o *globalOptions) stopLogging() {
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
}

// loadConfig loads the configuration named by --config. Without --debug
// the logger is rebuilt from the logging section.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if !o.debug {
		lc := logging.DefaultConfig()
		lc.WriteToStderr = false
		lc.Level = cfg.Logging.Level
		if cfg.Logging.File != "" {
			lc.FilePath = cfg.Logging.File
		}
		if err := o.setupLogging(lc); err != nil && !o.warnedNoFile {
			o.warnedNoFile = true
			o.warnf("Warning: not logging to %s: %v", lc.FilePath, err)
		}
	}
	return cfg, nil
}

func (o *globalOptions) warnf(format string, args ...any) {
	w := o.stderr
	if w == nil {
		w = os.Stderr
	}
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

// applyLogLevel follows logging.level of a reloaded configuration. The
// --debug flag wins over the file.
func (o *globalOptions) applyLogLevel(cfg *config.Config) {
	if o.debug {
		return
	}
	o.level.Set(logging.ParseLevel(cfg.Logging.Level))
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
