package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Aman-CERP/searchsync/internal/config"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
)

// Policy resolves the delivery handler from the current configuration on
// every call, so the mode can change between events.
type Policy struct {
	source   config.Source
	handlers *Handlers
	deps     Deps

	local  Handler
	queued Handler

	mu     sync.Mutex
	custom map[string]Handler
}

// NewPolicy returns a policy. deps.Config is replaced by the current
// configuration whenever a custom handler is built.
func NewPolicy(source config.Source, handlers *Handlers, deps Deps) *Policy {
	return &Policy{
		source:   source,
		handlers: handlers,
		deps:     deps,
		local:    NewLocalHandler(deps.Executor),
		queued:   NewQueuedHandler(deps.Queue),
		custom:   make(map[string]Handler),
	}
}

// Mode returns the configured delivery mode.
func (p *Policy) Mode() Mode {
	return Mode(p.source.Current().Delivery.Mode)
}

// Resolve returns the handler for the current mode. A custom handler that
// cannot be found or built is a fatal error.
func (p *Policy) Resolve() (Handler, error) {
	cfg := p.source.Current()
	switch Mode(cfg.Delivery.Mode) {
	case ModeLocal:
		return p.local, nil
	case ModeQueued:
		return p.queued, nil
	case ModeCustom:
		return p.customHandler(cfg)
	default:
		return nil, serrors.ConfigError(fmt.Sprintf("unknown delivery mode %q", cfg.Delivery.Mode), nil)
	}
}

// customHandler builds each named handler once and reuses it.
func (p *Policy) customHandler(cfg *config.Config) (Handler, error) {
	name := cfg.Delivery.CustomHandler

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.custom[name]; ok {
		return h, nil
	}
	deps := p.deps
	deps.Config = cfg
	h, err := p.handlers.Build(name, deps)
	if err != nil {
		return nil, err
	}
	p.custom[name] = h
	return h, nil
}

// Dispatch resolves the handler and delivers ev through it.
func (p *Policy) Dispatch(ctx context.Context, ev IndexEvent) Outcome {
	h, err := p.Resolve()
	if err != nil {
		return Outcome{Event: ev, Err: err}
	}
	return h.Deliver(ctx, ev)
}

// Close closes custom handlers that hold resources.
func (p *Policy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for name, h := range p.custom {
		if c, ok := h.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close handler %s: %w", name, err))
			}
		}
	}
	p.custom = make(map[string]Handler)
	return errors.Join(errs...)
}
