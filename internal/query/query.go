// Package query runs searches against the backend and turns the matched
// document ids back into models.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/searchsync/internal/backend"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// Hydrator loads models from the primary store. It returns at most one
// model per requested id that exists, in any order.
type Hydrator interface {
	LoadByIDs(ctx context.Context, kind string, ids []string) ([]mapping.Model, error)
}

// SearchResults is the outcome of one Fetch.
type SearchResults struct {
	// Count is the number of models in Results. It can be lower than the
	// number of hits when the index references ids the store no longer has.
	Count int

	// Results are ordered by backend rank.
	Results []mapping.Model

	// Facets maps facet names to term counts.
	Facets map[string][]backend.FacetTerm

	// Total is the backend's match count across all pages.
	Total uint64
}

// As returns the results that are of type T.
func As[T mapping.Model](r *SearchResults) []T {
	out := make([]T, 0, len(r.Results))
	for _, m := range r.Results {
		if t, ok := m.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Observation describes one finished Fetch.
type Observation struct {
	Kind   string
	Filter backend.Filter

	// Hits is the number of ids the backend returned for the page and
	// Count the number of models produced from them.
	Hits  int
	Count int
	Total uint64

	Latency time.Duration
	Err     error
}

// Observer is told about every Fetch, successful or not. It is called on
// the fetching goroutine and must not block.
type Observer interface {
	ObserveQuery(o Observation)
}

// Engine builds queries over one backend.
type Engine struct {
	registry *mapping.Registry
	client   backend.Client
	hydrator Hydrator
	observer Observer
}

// NewEngine returns an engine. hydrator may be nil when every query uses
// UseMapper.
func NewEngine(registry *mapping.Registry, client backend.Client, hydrator Hydrator) *Engine {
	return &Engine{registry: registry, client: client, hydrator: hydrator}
}

// SetObserver installs o. Call it before the first query.
func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

// Query starts a query over kind. Nothing is sent until Fetch.
func (e *Engine) Query(kind string, filter backend.Filter) *Builder {
	return &Builder{engine: e, kind: kind, filter: filter, from: -1, size: -1}
}

// Builder accumulates query options. Setters are ignored once the query
// has been fetched.
type Builder struct {
	engine *Engine
	kind   string
	filter backend.Filter

	from, size int
	hydrate    bool
	useMapper  bool
	sorts      []backend.Sort
	facets     []backend.Facet
	executed   bool
}

func (b *Builder) mutable() bool {
	if b.executed {
		slog.Debug("query_builder_frozen", slog.String("kind", b.kind))
		return false
	}
	return true
}

// From sets the offset of the first hit. Negative means the backend default.
func (b *Builder) From(n int) *Builder {
	if b.mutable() {
		b.from = n
	}
	return b
}

// Size sets the page size. Negative means the backend default.
func (b *Builder) Size(n int) *Builder {
	if b.mutable() {
		b.size = n
	}
	return b
}

// Hydrate asks the backend for ids only and loads every model from the
// primary store.
func (b *Builder) Hydrate(on bool) *Builder {
	if b.mutable() {
		b.hydrate = on
	}
	return b
}

// UseMapper decodes models from the stored documents instead of loading
// them from the primary store. Hydrate takes precedence.
func (b *Builder) UseMapper(on bool) *Builder {
	if b.mutable() {
		b.useMapper = on
	}
	return b
}

// AddFacet requests the top size terms of field under name.
func (b *Builder) AddFacet(name, field string, size int) *Builder {
	if b.mutable() {
		b.facets = append(b.facets, backend.Facet{Name: name, Field: field, Size: size})
	}
	return b
}

// AddSort orders hits by field. Sorts apply in the order added.
func (b *Builder) AddSort(field string, desc bool) *Builder {
	if b.mutable() {
		b.sorts = append(b.sorts, backend.Sort{Field: field, Desc: desc})
	}
	return b
}

// Request returns the backend request Fetch sends.
func (b *Builder) Request() backend.SearchRequest {
	return backend.SearchRequest{
		TypeName: b.engine.registry.Mapping(b.kind).TypeName,
		Filter:   b.filter,
		From:     b.from,
		Size:     b.size,
		Sorts:    b.sorts,
		Facets:   b.facets,
		IDsOnly:  b.hydrate,
	}
}

// Fetch runs the query. Zero hits return an empty result without
// touching the primary store.
func (b *Builder) Fetch(ctx context.Context) (*SearchResults, error) {
	b.executed = true
	start := time.Now()
	out, hits, err := b.fetch(ctx)

	if obs := b.engine.observer; obs != nil {
		o := Observation{Kind: b.kind, Filter: b.filter, Hits: hits, Latency: time.Since(start), Err: err}
		if out != nil {
			o.Count, o.Total = out.Count, out.Total
		}
		obs.ObserveQuery(o)
	}
	return out, err
}

func (b *Builder) fetch(ctx context.Context) (*SearchResults, int, error) {
	if err := b.filter.Validate(); err != nil {
		return nil, 0, serrors.New(serrors.ErrCodeInvalidQuery, "invalid filter for "+b.kind, err)
	}

	em := b.engine.registry.Mapping(b.kind)
	req := b.Request()
	raw, err := b.engine.client.ExecuteQuery(ctx, em.IndexName, req)
	if err != nil {
		return nil, 0, serrors.New(serrors.ErrCodeQueryFailed, "query on "+em.IndexName+" failed", err).
			WithDetail("kind", b.kind)
	}

	out := &SearchResults{Results: []mapping.Model{}, Facets: raw.Facets, Total: raw.Total}
	if len(raw.Hits) == 0 {
		return out, 0, nil
	}

	if b.useMapper && !b.hydrate {
		out.Results, err = decodeHits(em, raw.Hits)
	} else {
		out.Results, err = b.hydrateHits(ctx, em, raw.IDs())
	}
	if err != nil {
		return nil, len(raw.Hits), err
	}
	out.Count = len(out.Results)

	if out.Count != len(raw.Hits) {
		slog.Debug("query_hydration_gap",
			slog.String("kind", b.kind),
			slog.Int("hits", len(raw.Hits)),
			slog.Int("hydrated", out.Count),
			slog.Uint64("total", raw.Total))
	}
	return out, len(raw.Hits), nil
}

func (b *Builder) hydrateHits(ctx context.Context, em *mapping.EntityMapping, ids []string) ([]mapping.Model, error) {
	if b.engine.hydrator == nil {
		return nil, serrors.InternalError("no hydrator configured; use UseMapper", nil)
	}
	loaded, err := b.engine.hydrator.LoadByIDs(ctx, b.kind, ids)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeHydrateFailed, "failed to load "+b.kind+" models", err)
	}

	byID := make(map[string]mapping.Model, len(loaded))
	for _, m := range loaded {
		byID[em.DocumentID(m)] = m
	}
	ordered := make([]mapping.Model, 0, len(loaded))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			ordered = append(ordered, m)
			delete(byID, id)
		}
	}
	return ordered, nil
}

func decodeHits(em *mapping.EntityMapping, hits []backend.Hit) ([]mapping.Model, error) {
	if !em.CanDecode() {
		return nil, serrors.New(serrors.ErrCodeUnmappedType, "kind "+em.Kind+" has no constructor to decode documents", nil)
	}
	out := make([]mapping.Model, 0, len(hits))
	for _, h := range hits {
		if len(h.Source) == 0 {
			slog.Debug("query_hit_without_source", slog.String("kind", em.Kind), slog.String("id", h.ID))
			continue
		}
		m, err := em.Decode(h.Source)
		if err != nil {
			return nil, serrors.New(serrors.ErrCodeHydrateFailed, "failed to decode hit "+h.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}
