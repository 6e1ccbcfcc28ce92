package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/searchsync/internal/config"
)

// shutdownTimeout bounds the graceful stop of the REST listener.
const shutdownTimeout = 5 * time.Second

// runFileName is the run file inside a node data dir.
const runFileName = "node.json"

// Config configures a standalone node.
type Config struct {
	// Listen is the node protocol address.
	Listen string

	// HTTPListen is the REST address. Empty disables the REST surface.
	HTTPListen string

	Engine Options

	// RunFile, when set, records the running node's identity and
	// addresses.
	RunFile string
}

// ConfigFrom derives a node Config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	out := Config{
		Listen:     cfg.Node.Listen,
		HTTPListen: cfg.Node.HTTPListen,
		Engine: Options{
			DataDir:        cfg.Node.DataDir,
			OpenIndexCache: cfg.Node.OpenIndexCache,
			Settings:       cfg.Native,
		},
	}
	if cfg.Node.DataDir != "" {
		out.RunFile = filepath.Join(cfg.Node.DataDir, runFileName)
	}
	return out
}

// Run serves a node until ctx is cancelled. The node protocol and REST
// listeners share one engine; if either fails, both stop.
func Run(ctx context.Context, cfg Config) error {
	engine, err := NewEngine(cfg.Engine)
	if err != nil {
		if cfg.RunFile != "" {
			if owner, ok := NewRunFile(cfg.RunFile).Running(); ok {
				return fmt.Errorf("%w (held by node %s, pid %d, listening on %s)", err, owner.NodeID, owner.PID, owner.Listen)
			}
		}
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Warn("engine_close_failed", slog.String("error", err.Error()))
		}
	}()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}
	srv := NewServer(engine)

	if cfg.RunFile != "" {
		rf := NewRunFile(cfg.RunFile)
		info := RunInfo{
			PID:        os.Getpid(),
			NodeID:     srv.NodeID(),
			Listen:     ln.Addr().String(),
			HTTPListen: cfg.HTTPListen,
			Started:    time.Now().UTC(),
		}
		if err := rf.Write(info); err != nil {
			_ = ln.Close()
			return err
		}
		defer func() { _ = rf.Remove() }()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})

	if cfg.HTTPListen != "" {
		httpSrv := &http.Server{
			Addr:              cfg.HTTPListen,
			Handler:           NewRESTHandler(engine, srv.NodeID()),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("node_rest_listening", slog.String("addr", cfg.HTTPListen))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("rest listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("node_stopped", slog.String("node_id", srv.NodeID()))
	return err
}
