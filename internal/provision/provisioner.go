// Package provision creates the index and type of an entity kind on the
// backend, once per kind per process.
package provision

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Aman-CERP/searchsync/internal/backend"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// Provisioner tracks which kinds are started. Safe for concurrent use:
// concurrent callers for the same kind share one provisioning run.
type Provisioner struct {
	registry *mapping.Registry
	client   backend.Client
	group    singleflight.Group

	mu      sync.RWMutex
	started map[string]struct{}

	// generation advances on Reset. A run started under an older
	// generation cannot mark its kind started.
	generation uint64
}

// New returns a provisioner with an empty started set.
func New(registry *mapping.Registry, client backend.Client) *Provisioner {
	return &Provisioner{
		registry: registry,
		client:   client,
		started:  make(map[string]struct{}),
	}
}

// EnsureStarted provisions kind unless it is already started.
//
// A failed CreateIndex is returned and the kind stays unstarted, so the
// next event tries again. A failed CreateType only logs: the backend maps
// the fields dynamically instead. A run overtaken by Reset is repeated
// under the new mapping.
func (p *Provisioner) EnsureStarted(ctx context.Context, kind string) error {
	for !p.IsStarted(kind) {
		p.mu.RLock()
		gen := p.generation
		p.mu.RUnlock()

		key := strconv.FormatUint(gen, 10) + "/" + kind
		_, err, shared := p.group.Do(key, func() (any, error) {
			if p.IsStarted(kind) {
				return nil, nil
			}
			return nil, p.provision(ctx, kind, gen)
		})
		if shared {
			slog.Debug("provision_shared", slog.String("kind", kind))
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provisioner) provision(ctx context.Context, kind string, gen uint64) error {
	em := p.registry.Mapping(kind)

	if err := p.client.CreateIndex(ctx, em.IndexName); err != nil {
		return serrors.New(serrors.ErrCodeProvisionFailed, "failed to create index "+em.IndexName, err).
			WithDetail("kind", kind)
	}
	if err := p.client.CreateType(ctx, em.IndexName, em.TypeName, em.TypeMapping()); err != nil {
		slog.Warn("type_provision_failed",
			slog.String("kind", kind),
			slog.String("index", em.IndexName),
			slog.String("type", em.TypeName),
			slog.String("error", err.Error()))
	}

	p.mu.Lock()
	stale := gen != p.generation
	if !stale {
		p.started[kind] = struct{}{}
	}
	p.mu.Unlock()
	if stale {
		slog.Debug("provision_superseded", slog.String("kind", kind), slog.String("index", em.IndexName))
		return nil
	}

	slog.Info("index_provisioned",
		slog.String("kind", kind),
		slog.String("index", em.IndexName),
		slog.String("backend", p.client.Name()))
	return nil
}

// IsStarted reports whether kind has been provisioned.
func (p *Provisioner) IsStarted(kind string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.started[kind]
	return ok
}

// Started returns the started kinds, sorted.
func (p *Provisioner) Started() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.started))
	for k := range p.started {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Reset forgets every started kind. Used after the mapping strategy
// changes, since index names may have changed with it.
func (p *Provisioner) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = make(map[string]struct{})
	p.generation++
}
