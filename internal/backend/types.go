package backend

import (
	"context"
	"encoding/json"
)

// DefaultSize is the page size used when a request leaves Size negative.
const DefaultSize = 10

// FieldMapping declares the type of one document field.
type FieldMapping struct {
	Type string `json:"type"`
}

// TypeMapping is the field schema of one document type.
type TypeMapping struct {
	Properties map[string]FieldMapping `json:"properties,omitempty"`
}

// Sort orders hits by a field.
type Sort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Facet requests term counts over a field.
type Facet struct {
	Name  string `json:"name"`
	Field string `json:"field"`
	Size  int    `json:"size,omitempty"`
}

// SearchRequest is a query against one index.
type SearchRequest struct {
	// TypeName restricts hits to one document type when set.
	TypeName string `json:"type,omitempty"`

	Filter Filter `json:"filter"`

	// From and Size page the hits. Negative means backend default.
	From int `json:"from"`
	Size int `json:"size"`

	Sorts  []Sort  `json:"sorts,omitempty"`
	Facets []Facet `json:"facets,omitempty"`

	// IDsOnly skips document sources in the response.
	IDsOnly bool `json:"ids_only,omitempty"`
}

// Page returns the effective offset and size.
func (r SearchRequest) Page() (from, size int) {
	from, size = r.From, r.Size
	if from < 0 {
		from = 0
	}
	if size < 0 {
		size = DefaultSize
	}
	return from, size
}

// Hit is one matched document.
type Hit struct {
	ID     string          `json:"id"`
	Score  float64         `json:"score"`
	Source json.RawMessage `json:"source,omitempty"`
}

// FacetTerm is one bucket of a term facet.
type FacetTerm struct {
	Term  string `json:"term"`
	Count int    `json:"count"`
}

// RawResult is what a backend returns for a query.
type RawResult struct {
	// Total is the number of matching documents, not the page length.
	Total  uint64                 `json:"total"`
	Hits   []Hit                  `json:"hits"`
	Facets map[string][]FacetTerm `json:"facets,omitempty"`
}

// IDs returns hit ids in backend order.
func (r *RawResult) IDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	return ids
}

// Status describes a connected backend for admin reporting.
type Status struct {
	Backend   string        `json:"backend"`
	Endpoints []string      `json:"endpoints,omitempty"`
	Indexes   []IndexStatus `json:"indexes"`
}

// IndexStatus is the document count of one index.
type IndexStatus struct {
	Name      string `json:"name"`
	Documents uint64 `json:"documents"`
}

// StatusReporter is implemented by clients that can describe their backend.
type StatusReporter interface {
	Status(ctx context.Context) (*Status, error)
}
