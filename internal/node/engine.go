// Package node is the server side of the native backend: a bleve-backed
// engine holding one bleve index per backend index, served over the node
// protocol (JSON-RPC on TCP) and an Elasticsearch-compatible REST subset.
// The native client can also embed an Engine directly (local mode).
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/searchsync/internal/backend"
)

const (
	// typeField holds the document type name inside every document.
	typeField = "_type"
	// sourceField stores the original document body, unindexed.
	sourceField = "_source"

	// SettingDefaultAnalyzer selects the default bleve analyzer.
	SettingDefaultAnalyzer = "index.default_analyzer"
	// SettingStoreSource set to "false" stops storing document bodies.
	SettingStoreSource = "index.store_source"
)

var validIndexName = regexp.MustCompile(`^[a-z0-9][a-z0-9_.\-]*$`)

// Options configures an Engine.
type Options struct {
	// DataDir persists indexes. Empty keeps everything in memory.
	DataDir string

	// OpenIndexCache bounds how many on-disk indexes stay open (default 64).
	OpenIndexCache int

	// Settings are backend-native settings, applied to new indexes.
	Settings map[string]string
}

// IndexStats describes one index.
type IndexStats struct {
	Name      string `json:"name"`
	Documents uint64 `json:"documents"`
	Created   bool   `json:"created"`
}

// Engine owns the bleve indexes of a node. Safe for concurrent use.
//
// An index exists logically after CreateIndex but its bleve index is only
// built on the first CreateType or IndexDocument, because bleve mappings
// are fixed at creation.
type Engine struct {
	dataDir     string
	settings    map[string]string
	storeSource bool
	lock        *flock.Flock

	mu      sync.RWMutex
	indexes map[string]bool // name -> bleve index built
	mem     map[string]bleve.Index
	open    *lru.Cache[string, bleve.Index]
	closed  bool
}

// NewEngine returns an engine. With a data dir it takes an exclusive lock
// on the directory and picks up indexes created by earlier runs.
func NewEngine(opts Options) (*Engine, error) {
	e := &Engine{
		dataDir:     opts.DataDir,
		settings:    make(map[string]string, len(opts.Settings)),
		storeSource: opts.Settings[SettingStoreSource] != "false",
		indexes:     make(map[string]bool),
		mem:         make(map[string]bleve.Index),
	}
	for k, v := range opts.Settings {
		e.settings[k] = v
	}

	if e.dataDir == "" {
		return e, nil
	}

	if err := os.MkdirAll(e.indexRoot(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", e.dataDir, err)
	}
	e.lock = flock.New(filepath.Join(e.dataDir, "node.lock"))
	locked, err := e.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data dir %s: %w", e.dataDir, err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is in use by another node", e.dataDir)
	}

	size := opts.OpenIndexCache
	if size <= 0 {
		size = 64
	}
	e.open, err = lru.NewWithEvict[string, bleve.Index](size, func(name string, idx bleve.Index) {
		if err := idx.Close(); err != nil {
			slog.Warn("index_close_failed", slog.String("index", name), slog.String("error", err.Error()))
		}
	})
	if err != nil {
		_ = e.lock.Unlock()
		return nil, err
	}

	entries, err := os.ReadDir(e.indexRoot())
	if err != nil {
		_ = e.lock.Unlock()
		return nil, fmt.Errorf("failed to scan data dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && validIndexName.MatchString(entry.Name()) {
			e.indexes[entry.Name()] = true
		}
	}
	slog.Info("node_engine_opened",
		slog.String("data_dir", e.dataDir),
		slog.Int("indexes", len(e.indexes)))
	return e, nil
}

// Settings returns a copy of the node settings.
func (e *Engine) Settings() map[string]string {
	out := make(map[string]string, len(e.settings))
	for k, v := range e.settings {
		out[k] = v
	}
	return out
}

func (e *Engine) indexRoot() string {
	return filepath.Join(e.dataDir, "indexes")
}

func (e *Engine) indexPath(name string) string {
	return filepath.Join(e.indexRoot(), name)
}

// CreateIndex registers an index. Returns backend.ErrAlreadyExists if it exists.
func (e *Engine) CreateIndex(name string) error {
	if !validIndexName.MatchString(name) {
		return fmt.Errorf("invalid index name %q", name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEngineClosed
	}
	if _, ok := e.indexes[name]; ok {
		return fmt.Errorf("index %q: %w", name, backend.ErrAlreadyExists)
	}
	e.indexes[name] = false
	return nil
}

// CreateType builds the index with a mapping for typeName. Returns
// backend.ErrAlreadyExists if the index already maps typeName. Types added
// after the index is built succeed but use dynamic mapping.
func (e *Engine) CreateType(index, typeName string, tm backend.TypeMapping) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEngineClosed
	}

	built, ok := e.indexes[index]
	if !ok {
		return fmt.Errorf("index %q: %w", index, backend.ErrNotFound)
	}
	if built {
		idx, err := e.openLocked(index)
		if err != nil {
			return err
		}
		if im, ok := idx.Mapping().(*mapping.IndexMappingImpl); ok {
			if _, exists := im.TypeMapping[typeName]; exists {
				return fmt.Errorf("type %q in %q: %w", typeName, index, backend.ErrAlreadyExists)
			}
		}
		// Mappings are fixed once built. A later type in a shared index
		// is indexed with the dynamic default mapping.
		slog.Warn("type_mapping_dynamic",
			slog.String("index", index),
			slog.String("type", typeName))
		return nil
	}

	im, err := e.newMapping(typeName, tm)
	if err != nil {
		return err
	}
	return e.buildLocked(index, im)
}

// IndexDocument stores body under id, creating the index on demand.
func (e *Engine) IndexDocument(index, typeName, id string, body json.RawMessage) error {
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("document body must be a JSON object: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if e.storeSource {
		doc[sourceField] = string(body)
	}

	if err := e.ensureBuilt(index); err != nil {
		return err
	}
	return e.withIndex(index, func(idx bleve.Index) error {
		if typeName == "" {
			typeName = soleType(idx)
		}
		doc[typeField] = typeName
		return idx.Index(id, doc)
	})
}

// soleType returns the only mapped type of idx, or "" when there are
// zero or several. Typeless writes from the REST surface use it.
func soleType(idx bleve.Index) string {
	im, ok := idx.Mapping().(*mapping.IndexMappingImpl)
	if !ok || len(im.TypeMapping) != 1 {
		return ""
	}
	for name := range im.TypeMapping {
		return name
	}
	return ""
}

// DeleteDocument removes id. Returns backend.ErrNotFound when the index or
// the document does not exist.
func (e *Engine) DeleteDocument(index, typeName, id string) error {
	err := e.withIndex(index, func(idx bleve.Index) error {
		existing, err := idx.Document(id)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("document %s/%s: %w", index, id, backend.ErrNotFound)
		}
		return idx.Delete(id)
	})
	if errors.Is(err, errNotBuilt) {
		return fmt.Errorf("document %s/%s: %w", index, id, backend.ErrNotFound)
	}
	return err
}

// Search runs req against index.
func (e *Engine) Search(ctx context.Context, index string, req backend.SearchRequest) (*backend.RawResult, error) {
	if err := req.Filter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	q, err := toBleveQuery(req.Filter)
	if err != nil {
		return nil, err
	}
	if req.TypeName != "" {
		tq := bleve.NewTermQuery(req.TypeName)
		tq.SetField(typeField)
		q = bleve.NewConjunctionQuery(q, tq)
	}

	from, size := req.Page()
	sr := bleve.NewSearchRequestOptions(q, size, from, false)
	if !req.IDsOnly && e.storeSource {
		sr.Fields = []string{sourceField}
	}
	if len(req.Sorts) > 0 {
		order := make([]string, len(req.Sorts))
		for i, s := range req.Sorts {
			order[i] = s.Field
			if s.Desc {
				order[i] = "-" + s.Field
			}
		}
		sr.SortBy(order)
	}
	for _, f := range req.Facets {
		n := f.Size
		if n <= 0 {
			n = 10
		}
		sr.AddFacet(f.Name, bleve.NewFacetRequest(f.Field, n))
	}

	result := &backend.RawResult{Hits: []backend.Hit{}}
	err = e.withIndex(index, func(idx bleve.Index) error {
		res, err := idx.SearchInContext(ctx, sr)
		if err != nil {
			return err
		}
		result.Total = res.Total
		for _, hit := range res.Hits {
			h := backend.Hit{ID: hit.ID, Score: hit.Score}
			if src, ok := hit.Fields[sourceField].(string); ok {
				h.Source = json.RawMessage(src)
			}
			result.Hits = append(result.Hits, h)
		}
		if len(res.Facets) > 0 {
			result.Facets = make(map[string][]backend.FacetTerm, len(res.Facets))
			for name, fr := range res.Facets {
				terms := []backend.FacetTerm{}
				if fr.Terms != nil {
					for _, tf := range fr.Terms.Terms() {
						terms = append(terms, backend.FacetTerm{Term: tf.Term, Count: tf.Count})
					}
				}
				result.Facets[name] = terms
			}
		}
		return nil
	})
	if errors.Is(err, errNotBuilt) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refresh is a no-op: bleve makes writes searchable before Index returns.
func (e *Engine) Refresh() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return errEngineClosed
	}
	return nil
}

// Stats returns per-index statistics, sorted by name.
func (e *Engine) Stats() []IndexStats {
	e.mu.RLock()
	names := make([]string, 0, len(e.indexes))
	for name := range e.indexes {
		names = append(names, name)
	}
	e.mu.RUnlock()
	sort.Strings(names)

	out := make([]IndexStats, 0, len(names))
	for _, name := range names {
		st := IndexStats{Name: name}
		err := e.withIndex(name, func(idx bleve.Index) error {
			n, err := idx.DocCount()
			st.Documents = n
			return err
		})
		st.Created = err == nil
		out = append(out, st)
	}
	return out
}

// Close closes every open index and releases the data dir lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for name, idx := range e.mem {
		if err := idx.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
	}
	if e.open != nil {
		e.open.Purge()
	}
	if e.lock != nil {
		if err := e.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	errEngineClosed = errors.New("engine is closed")
	errNotBuilt     = errors.New("index has no documents yet")
)

// ensureBuilt registers and builds index with the default mapping if needed.
func (e *Engine) ensureBuilt(index string) error {
	if !validIndexName.MatchString(index) {
		return fmt.Errorf("invalid index name %q", index)
	}

	e.mu.RLock()
	built := e.indexes[index]
	e.mu.RUnlock()
	if built {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEngineClosed
	}
	if e.indexes[index] {
		return nil
	}
	im, err := e.newMapping("", backend.TypeMapping{})
	if err != nil {
		return err
	}
	return e.buildLocked(index, im)
}

// withIndex runs fn with the bleve index of name while holding the read
// lock, so the index cannot be evicted or closed underneath fn.
func (e *Engine) withIndex(name string, fn func(bleve.Index) error) error {
	for attempt := 0; attempt < 3; attempt++ {
		e.mu.RLock()
		if e.closed {
			e.mu.RUnlock()
			return errEngineClosed
		}
		built, ok := e.indexes[name]
		if !ok {
			e.mu.RUnlock()
			return fmt.Errorf("index %q: %w", name, backend.ErrNotFound)
		}
		if !built {
			e.mu.RUnlock()
			return errNotBuilt
		}
		if idx, ok := e.lookupLocked(name); ok {
			err := fn(idx)
			e.mu.RUnlock()
			return err
		}
		e.mu.RUnlock()

		e.mu.Lock()
		_, err := e.openLocked(name)
		e.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("index %q could not be kept open", name)
}

func (e *Engine) lookupLocked(name string) (bleve.Index, bool) {
	if e.open == nil {
		idx, ok := e.mem[name]
		return idx, ok
	}
	return e.open.Get(name)
}

// openLocked returns the open bleve index of a built index. Caller holds
// the write lock.
func (e *Engine) openLocked(name string) (bleve.Index, error) {
	if idx, ok := e.lookupLocked(name); ok {
		return idx, nil
	}
	if e.open == nil {
		return nil, fmt.Errorf("index %q: %w", name, backend.ErrNotFound)
	}

	path := e.indexPath(name)
	idx, err := bleve.Open(path)
	if err != nil && isCorruptionError(err) {
		slog.Warn("index_corrupted",
			slog.String("index", name),
			slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("index %s corrupted and cannot be cleared: %w", name, rmErr)
		}
		im, mErr := e.newMapping("", backend.TypeMapping{})
		if mErr != nil {
			return nil, mErr
		}
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", name, err)
	}
	e.open.Add(name, idx)
	return idx, nil
}

// buildLocked creates the bleve index of name. Caller holds the write lock.
func (e *Engine) buildLocked(name string, im *mapping.IndexMappingImpl) error {
	var (
		idx bleve.Index
		err error
	)
	if e.open == nil {
		idx, err = bleve.NewMemOnly(im)
	} else {
		idx, err = bleve.New(e.indexPath(name), im)
	}
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", name, err)
	}

	if e.open == nil {
		e.mem[name] = idx
	} else {
		e.open.Add(name, idx)
	}
	e.indexes[name] = true
	return nil
}

func (e *Engine) newMapping(typeName string, tm backend.TypeMapping) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	im.TypeField = typeField
	if a := e.settings[SettingDefaultAnalyzer]; a != "" {
		im.DefaultAnalyzer = a
	}
	addSystemFields(im.DefaultMapping)

	if typeName != "" {
		dm := bleve.NewDocumentMapping()
		addSystemFields(dm)
		for field, fm := range tm.Properties {
			fieldMapping, err := toFieldMapping(fm.Type)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			dm.AddFieldMappingsAt(field, fieldMapping)
		}
		im.AddDocumentMapping(typeName, dm)
	}

	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	return im, nil
}

func addSystemFields(dm *mapping.DocumentMapping) {
	src := bleve.NewTextFieldMapping()
	src.Index = false
	src.Store = true
	src.IncludeInAll = false
	src.IncludeTermVectors = false
	src.DocValues = false
	dm.AddFieldMappingsAt(sourceField, src)

	typ := bleve.NewKeywordFieldMapping()
	typ.Store = false
	typ.IncludeInAll = false
	dm.AddFieldMappingsAt(typeField, typ)
}

func toFieldMapping(typ string) (*mapping.FieldMapping, error) {
	switch strings.ToLower(typ) {
	case "text", "string":
		return bleve.NewTextFieldMapping(), nil
	case "keyword":
		return bleve.NewKeywordFieldMapping(), nil
	case "long", "integer", "short", "float", "double", "number":
		return bleve.NewNumericFieldMapping(), nil
	case "boolean":
		return bleve.NewBooleanFieldMapping(), nil
	case "date":
		return bleve.NewDateTimeFieldMapping(), nil
	default:
		return nil, fmt.Errorf("unsupported field type %q", typ)
	}
}

func toBleveQuery(f backend.Filter) (query.Query, error) {
	switch {
	case f.MatchAll:
		return bleve.NewMatchAllQuery(), nil
	case f.Match != nil:
		q := bleve.NewMatchQuery(f.Match.Value)
		if f.Match.Field != "" {
			q.SetField(f.Match.Field)
		}
		return q, nil
	case f.Term != nil:
		q := bleve.NewTermQuery(f.Term.Value)
		q.SetField(f.Term.Field)
		return q, nil
	case f.IDs != nil:
		return bleve.NewDocIDQuery(f.IDs), nil
	case f.QueryString != "":
		return bleve.NewQueryStringQuery(f.QueryString), nil
	case f.Range != nil:
		inclusive := true
		q := bleve.NewNumericRangeInclusiveQuery(f.Range.GTE, f.Range.LTE, &inclusive, &inclusive)
		q.SetField(f.Range.Field)
		return q, nil
	case f.Bool != nil:
		must, err := toBleveQueries(f.Bool.Must)
		if err != nil {
			return nil, err
		}
		should, err := toBleveQueries(f.Bool.Should)
		if err != nil {
			return nil, err
		}
		mustNot, err := toBleveQueries(f.Bool.MustNot)
		if err != nil {
			return nil, err
		}
		return query.NewBooleanQuery(must, should, mustNot), nil
	}
	return nil, fmt.Errorf("empty filter")
}

func toBleveQueries(fs []backend.Filter) ([]query.Query, error) {
	if len(fs) == 0 {
		return nil, nil
	}
	out := make([]query.Query, len(fs))
	for i, f := range fs {
		q, err := toBleveQuery(f)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}

// isCorruptionError checks if an error indicates on-disk index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment")
}
