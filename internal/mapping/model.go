// Package mapping resolves entity kinds to their index metadata.
//
// A Registry caches one EntityMapping per kind, built by a pluggable
// Strategy, and remembers the backend type name of every mapping so query
// results can be resolved back to a kind.
package mapping

import (
	"encoding/json"
	"fmt"
)

// Model is a primary-store entity that can be indexed.
type Model interface {
	// Kind names the entity type, e.g. "article".
	Kind() string
	// Key is the primary key. The document id is derived from it.
	Key() string
}

// Searchable is implemented by payload types that opt in to indexing.
type Searchable interface {
	Searchable() bool
}

// Documenter is implemented by models that build their own document body.
// Models without it are serialized with encoding/json.
type Documenter interface {
	Document() (map[string]any, error)
}

// Classifier decides whether a lifecycle payload is worth indexing.
type Classifier interface {
	IsSearchable(payload any) bool
}

// KindClassifier treats payloads as searchable when they opt in through
// Searchable, or when they are models of one of the configured kinds.
type KindClassifier struct {
	kinds map[string]struct{}
}

// NewKindClassifier returns a classifier for the given kinds.
func NewKindClassifier(kinds ...string) *KindClassifier {
	c := &KindClassifier{kinds: make(map[string]struct{}, len(kinds))}
	for _, k := range kinds {
		c.kinds[k] = struct{}{}
	}
	return c
}

// IsSearchable implements Classifier.
func (c *KindClassifier) IsSearchable(payload any) bool {
	if s, ok := payload.(Searchable); ok {
		return s.Searchable()
	}
	if m, ok := payload.(Model); ok {
		_, found := c.kinds[m.Kind()]
		return found
	}
	return false
}

// Document is a schemaless Model: a kind, a key and free-form fields.
// It is what the CLI stores and indexes.
type Document struct {
	DocKind string
	DocKey  string
	Fields  map[string]any
}

// Kind implements Model.
func (d *Document) Kind() string { return d.DocKind }

// Key implements Model.
func (d *Document) Key() string { return d.DocKey }

// Searchable implements Searchable.
func (d *Document) Searchable() bool { return true }

// MarshalJSON flattens the fields and adds the key under "key".
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+1)
	for k, v := range d.Fields {
		out[k] = v
	}
	out["key"] = d.DocKey
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON. DocKind is left untouched.
func (d *Document) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if k, ok := fields["key"]; ok {
		d.DocKey = fmt.Sprint(k)
		delete(fields, "key")
	}
	d.Fields = fields
	return nil
}
