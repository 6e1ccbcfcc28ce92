package delivery

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Aman-CERP/searchsync/internal/config"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// Deps are what handler factories can build on.
type Deps struct {
	Executor Executor
	Queue    Enqueuer
	Registry *mapping.Registry
	Config   *config.Config
}

// Factory builds a named handler.
type Factory func(deps Deps) (Handler, error)

// Handlers is the table of named handlers a custom delivery mode can
// select. It starts with "local", "queued" and "nats".
type Handlers struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewHandlers returns a table with the built-in handlers.
func NewHandlers() *Handlers {
	h := &Handlers{factories: make(map[string]Factory)}
	h.Register(string(ModeLocal), func(d Deps) (Handler, error) {
		return NewLocalHandler(d.Executor), nil
	})
	h.Register(string(ModeQueued), func(d Deps) (Handler, error) {
		return NewQueuedHandler(d.Queue), nil
	})
	h.Register(NATSHandlerName, newNATSHandlerFromDeps)
	return h
}

// Register adds or replaces a named handler.
func (h *Handlers) Register(name string, f Factory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.factories[name] = f
}

// Build constructs the handler registered as name.
func (h *Handlers) Build(name string, deps Deps) (Handler, error) {
	h.mu.RLock()
	f, ok := h.factories[name]
	h.mu.RUnlock()
	if !ok {
		return nil, serrors.ContractError(serrors.ErrCodeUnknownHandler,
			fmt.Sprintf("no delivery handler named %q", name)).
			WithSuggestion("Registered handlers: " + fmt.Sprint(h.Names()))
	}
	handler, err := f(deps)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeUnknownHandler,
			fmt.Sprintf("failed to build delivery handler %q", name), err)
	}
	return handler, nil
}

// Names returns the registered handler names, sorted.
func (h *Handlers) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.factories))
	for name := range h.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
