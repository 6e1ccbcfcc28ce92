package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Source hands out the configuration in force right now. Components that
// must observe changes between calls (the delivery policy) call Current
// every time instead of holding on to a *Config.
type Source interface {
	Current() *Config
}

// StaticSource is a Source whose value only changes through Set.
type StaticSource struct {
	cfg atomic.Pointer[Config]
}

// NewStaticSource wraps cfg.
func NewStaticSource(cfg *Config) *StaticSource {
	s := &StaticSource{}
	s.cfg.Store(cfg)
	return s
}

// Current returns the stored configuration.
func (s *StaticSource) Current() *Config {
	return s.cfg.Load()
}

// Set replaces the stored configuration.
func (s *StaticSource) Set(cfg *Config) {
	s.cfg.Store(cfg)
}

// FileSource is a Source backed by a YAML file that is re-read whenever the
// file changes on disk. A reload that fails to parse or validate keeps the
// previous configuration.
type FileSource struct {
	path     string
	cfg      atomic.Pointer[Config]
	onReload func(*Config)
}

// NewFileSource loads path with Load and returns a source serving it.
func NewFileSource(path string) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, err
	}
	s := &FileSource{path: abs}
	s.cfg.Store(cfg)
	return s, nil
}

// Current returns the most recently loaded configuration.
func (s *FileSource) Current() *Config {
	return s.cfg.Load()
}

// OnReload registers fn to run after each successful reload.
func (s *FileSource) OnReload(fn func(*Config)) {
	s.onReload = fn
}

// Watch starts watching the config file and returns once the watch is
// established. Reloads happen on a background goroutine until ctx is done.
func (s *FileSource) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					s.reload()
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("config_watch_error", slog.String("path", s.path), slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}

func (s *FileSource) reload() {
	cfg, err := Load(s.path)
	if err != nil {
		slog.Warn("config_reload_failed", slog.String("path", s.path), slog.String("error", err.Error()))
		return
	}
	s.cfg.Store(cfg)
	slog.Info("config_reloaded",
		slog.String("path", s.path),
		slog.String("delivery_mode", cfg.Delivery.Mode))
	if s.onReload != nil {
		s.onReload(cfg)
	}
}
