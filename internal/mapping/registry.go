package mapping

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Aman-CERP/searchsync/internal/backend"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
)

// Type describes an entity kind to the registry.
type Type struct {
	Kind string

	// New returns an empty instance, used to decode documents and rows.
	New func() Model

	// Fields declares field types (text, keyword, long, double, boolean,
	// date). Undeclared fields are mapped dynamically by the backend.
	Fields map[string]string
}

// EntityMapping is the index metadata of one kind.
type EntityMapping struct {
	Kind      string
	IndexName string
	TypeName  string
	Fields    map[string]string

	newModel func() Model
}

// DocumentID returns the backend document id of m: its primary key.
func (em *EntityMapping) DocumentID(m Model) string {
	return m.Key()
}

// Document returns the backend document body of m.
func (em *EntityMapping) Document(m Model) (json.RawMessage, error) {
	if d, ok := m.(Documenter); ok {
		fields, err := d.Document()
		if err != nil {
			return nil, err
		}
		return json.Marshal(fields)
	}
	return json.Marshal(m)
}

// Decode rebuilds a model from a document body.
func (em *EntityMapping) Decode(source json.RawMessage) (Model, error) {
	if em.newModel == nil {
		return nil, serrors.New(serrors.ErrCodeUnmappedType, "no constructor registered for kind "+em.Kind, nil)
	}
	m := em.newModel()
	if err := json.Unmarshal(source, m); err != nil {
		return nil, fmt.Errorf("decode %s document: %w", em.Kind, err)
	}
	return m, nil
}

// CanDecode reports whether Decode can build models of this kind.
func (em *EntityMapping) CanDecode() bool {
	return em.newModel != nil
}

// TypeMapping converts the declared fields to the backend mapping.
func (em *EntityMapping) TypeMapping() backend.TypeMapping {
	tm := backend.TypeMapping{}
	if len(em.Fields) == 0 {
		return tm
	}
	tm.Properties = make(map[string]backend.FieldMapping, len(em.Fields))
	for name, typ := range em.Fields {
		tm.Properties[name] = backend.FieldMapping{Type: typ}
	}
	return tm
}

// Strategy builds the mapping of a kind.
type Strategy interface {
	Mapping(t Type) *EntityMapping
}

// DefaultStrategy names the index prefix+kind and the type kind, both
// lower-cased.
type DefaultStrategy struct {
	Prefix string
}

// Mapping implements Strategy.
func (s DefaultStrategy) Mapping(t Type) *EntityMapping {
	name := strings.ToLower(t.Kind)
	return &EntityMapping{
		Kind:      t.Kind,
		IndexName: s.Prefix + name,
		TypeName:  name,
		Fields:    t.Fields,
		newModel:  t.New,
	}
}

// Registry caches one EntityMapping per kind. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategy   Strategy
	types      map[string]Type
	mappings   map[string]*EntityMapping
	byTypeName map[string]string
}

// NewRegistry returns a registry building mappings with strategy.
func NewRegistry(strategy Strategy) (*Registry, error) {
	if strategy == nil {
		return nil, serrors.ConfigError("mapping strategy is required", nil)
	}
	return &Registry{
		strategy:   strategy,
		types:      make(map[string]Type),
		mappings:   make(map[string]*EntityMapping),
		byTypeName: make(map[string]string),
	}, nil
}

// Register declares a kind. Re-registering drops its cached mapping.
func (r *Registry) Register(t Type) error {
	if t.Kind == "" {
		return serrors.ContractError(serrors.ErrCodeUnmappedType, "entity type has no kind")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Kind] = t
	if em, ok := r.mappings[t.Kind]; ok {
		delete(r.byTypeName, em.TypeName)
		delete(r.mappings, t.Kind)
	}
	return nil
}

// Mapping returns the cached mapping of kind, building it on first use.
// Kinds that were never registered get a mapping without a constructor.
func (r *Registry) Mapping(kind string) *EntityMapping {
	r.mu.RLock()
	em, ok := r.mappings[kind]
	r.mu.RUnlock()
	if ok {
		return em
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if em, ok := r.mappings[kind]; ok {
		return em
	}

	t, ok := r.types[kind]
	if !ok {
		t = Type{Kind: kind}
	}
	em = r.strategy.Mapping(t)
	r.mappings[kind] = em
	r.byTypeName[em.TypeName] = kind
	return em
}

// SetStrategy installs a new strategy and clears every cached mapping.
func (r *Registry) SetStrategy(strategy Strategy) error {
	if strategy == nil {
		return serrors.ConfigError("mapping strategy is required", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategy = strategy
	r.mappings = make(map[string]*EntityMapping)
	r.byTypeName = make(map[string]string)
	return nil
}

// LookupKind resolves a backend type name to the kind whose mapping
// produced it. Only kinds whose mapping has been built are known.
func (r *Registry) LookupKind(typeName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kind, ok := r.byTypeName[typeName]
	return kind, ok
}

// MappingForType is LookupKind followed by Mapping.
func (r *Registry) MappingForType(typeName string) (*EntityMapping, bool) {
	kind, ok := r.LookupKind(typeName)
	if !ok {
		return nil, false
	}
	return r.Mapping(kind), true
}

// New returns an empty model of kind.
func (r *Registry) New(kind string) (Model, error) {
	r.mu.RLock()
	t, ok := r.types[kind]
	r.mu.RUnlock()
	if !ok || t.New == nil {
		return nil, serrors.New(serrors.ErrCodeUnmappedType, "unknown kind: "+kind, nil).
			WithSuggestion("register the kind before loading or decoding it")
	}
	return t.New(), nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for k := range r.types {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DocumentType returns a Type for schemaless documents of kind.
func DocumentType(kind string, fields map[string]string) Type {
	return Type{
		Kind:   kind,
		Fields: fields,
		New:    func() Model { return &Document{DocKind: kind} },
	}
}
