package rest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Aman-CERP/searchsync/internal/backend"
)

// Error types returned in Elasticsearch-style error bodies.
const (
	ErrTypeAlreadyExists = "resource_already_exists_exception"
	ErrTypeIndexNotFound = "index_not_found_exception"
	ErrTypeBadRequest    = "illegal_argument_exception"
	ErrTypeParse         = "parsing_exception"
)

// TypeField is the document field holding the type name. Searches
// restricted to one type carry a term clause on it.
const TypeField = "_type"

// ErrorBody is the body of a failed request.
type ErrorBody struct {
	Error  ErrorCause `json:"error"`
	Status int        `json:"status"`
}

// ErrorCause describes why a request failed.
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// MappingBody is the body of PUT /{index}/_mapping.
type MappingBody struct {
	Properties map[string]backend.FieldMapping `json:"properties,omitempty"`
	Meta       map[string]string               `json:"_meta,omitempty"`
}

// TermsAgg is a terms aggregation.
type TermsAgg struct {
	Terms struct {
		Field string `json:"field"`
		Size  int    `json:"size,omitempty"`
	} `json:"terms"`
}

// SearchBody is the body of POST /{index}/_search.
type SearchBody struct {
	Query  map[string]any      `json:"query"`
	From   *int                `json:"from,omitempty"`
	Size   *int                `json:"size,omitempty"`
	Sort   []map[string]any    `json:"sort,omitempty"`
	Aggs   map[string]TermsAgg `json:"aggs,omitempty"`
	Source *bool               `json:"_source,omitempty"`
}

// NewSearchBody renders req in Elasticsearch form. Negative paging values
// are left out so the server applies its defaults.
func NewSearchBody(req backend.SearchRequest) SearchBody {
	filter := req.Filter
	if req.TypeName != "" {
		filter = backend.And(filter, backend.Term(TypeField, req.TypeName))
	}
	body := SearchBody{Query: filter.DSL()}
	if req.From >= 0 {
		from := req.From
		body.From = &from
	}
	if req.Size >= 0 {
		size := req.Size
		body.Size = &size
	}
	for _, s := range req.Sorts {
		order := "asc"
		if s.Desc {
			order = "desc"
		}
		body.Sort = append(body.Sort, map[string]any{s.Field: map[string]string{"order": order}})
	}
	if len(req.Facets) > 0 {
		body.Aggs = make(map[string]TermsAgg, len(req.Facets))
		for _, f := range req.Facets {
			var agg TermsAgg
			agg.Terms.Field = f.Field
			agg.Terms.Size = f.Size
			body.Aggs[f.Name] = agg
		}
	}
	if req.IDsOnly {
		off := false
		body.Source = &off
	}
	return body
}

// rawSearchBody is SearchBody as received, before the query is parsed.
type rawSearchBody struct {
	Query  json.RawMessage     `json:"query"`
	From   *int                `json:"from"`
	Size   *int                `json:"size"`
	Sort   []json.RawMessage   `json:"sort"`
	Aggs   map[string]TermsAgg `json:"aggs"`
	Source *bool               `json:"_source"`
}

// ParseSearchBody decodes an Elasticsearch search body into a request.
func ParseSearchBody(data []byte) (backend.SearchRequest, error) {
	req := backend.SearchRequest{From: -1, Size: -1}
	if len(strings.TrimSpace(string(data))) == 0 {
		req.Filter = backend.MatchAll()
		return req, nil
	}

	var raw rawSearchBody
	if err := json.Unmarshal(data, &raw); err != nil {
		return req, fmt.Errorf("malformed search body: %w", err)
	}

	filter, err := backend.ParseDSL(raw.Query)
	if err != nil {
		return req, err
	}
	req.Filter, req.TypeName = splitTypeFilter(filter)
	if raw.From != nil {
		req.From = *raw.From
	}
	if raw.Size != nil {
		req.Size = *raw.Size
	}
	for _, s := range raw.Sort {
		sort, err := parseSort(s)
		if err != nil {
			return req, err
		}
		req.Sorts = append(req.Sorts, sort)
	}
	for name, agg := range raw.Aggs {
		req.Facets = append(req.Facets, backend.Facet{Name: name, Field: agg.Terms.Field, Size: agg.Terms.Size})
	}
	if raw.Source != nil && !*raw.Source {
		req.IDsOnly = true
	}
	return req, nil
}

// splitTypeFilter lifts the type restriction added by NewSearchBody back
// out of the query.
func splitTypeFilter(f backend.Filter) (backend.Filter, string) {
	b := f.Bool
	if b == nil || len(b.Must) != 2 || len(b.Should) > 0 || len(b.MustNot) > 0 {
		return f, ""
	}
	t := b.Must[1].Term
	if t == nil || t.Field != TypeField {
		return f, ""
	}
	return b.Must[0], t.Value
}

// parseSort accepts "field", {"field":"desc"} and {"field":{"order":"desc"}}.
func parseSort(raw json.RawMessage) (backend.Sort, error) {
	var field string
	if err := json.Unmarshal(raw, &field); err == nil {
		return backend.Sort{Field: field}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return backend.Sort{}, fmt.Errorf("sort entries must name one field")
	}
	for f, v := range obj {
		var order string
		if err := json.Unmarshal(v, &order); err != nil {
			var sortOpts struct {
				Order string `json:"order"`
			}
			if err := json.Unmarshal(v, &sortOpts); err != nil {
				return backend.Sort{}, fmt.Errorf("sort %s: %w", f, err)
			}
			order = sortOpts.Order
		}
		return backend.Sort{Field: f, Desc: strings.EqualFold(order, "desc")}, nil
	}
	return backend.Sort{}, fmt.Errorf("empty sort")
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	Took int `json:"took"`
	Hits struct {
		Total struct {
			Value    uint64 `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []SearchHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]AggResult `json:"aggregations,omitempty"`
}

// AggResult is the result of a terms aggregation.
type AggResult struct {
	Buckets []Bucket `json:"buckets"`
}

// Bucket is one term of an aggregation.
type Bucket struct {
	Key      any `json:"key"`
	DocCount int `json:"doc_count"`
}

// SearchHit is one hit of a SearchResponse.
type SearchHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source,omitempty"`
}

// Result converts the response to the backend-neutral form.
func (r *SearchResponse) Result() *backend.RawResult {
	out := &backend.RawResult{Total: r.Hits.Total.Value, Hits: make([]backend.Hit, 0, len(r.Hits.Hits))}
	for _, h := range r.Hits.Hits {
		out.Hits = append(out.Hits, backend.Hit{ID: h.ID, Score: h.Score, Source: h.Source})
	}
	if len(r.Aggregations) > 0 {
		out.Facets = make(map[string][]backend.FacetTerm, len(r.Aggregations))
		for name, agg := range r.Aggregations {
			terms := make([]backend.FacetTerm, 0, len(agg.Buckets))
			for _, b := range agg.Buckets {
				terms = append(terms, backend.FacetTerm{Term: fmt.Sprint(b.Key), Count: b.DocCount})
			}
			out.Facets[name] = terms
		}
	}
	return out
}

// NewSearchResponse renders a backend-neutral result in Elasticsearch form.
func NewSearchResponse(index string, res *backend.RawResult, took int) SearchResponse {
	var out SearchResponse
	out.Took = took
	out.Hits.Total.Value = res.Total
	out.Hits.Total.Relation = "eq"
	out.Hits.Hits = make([]SearchHit, 0, len(res.Hits))
	for _, h := range res.Hits {
		out.Hits.Hits = append(out.Hits.Hits, SearchHit{Index: index, ID: h.ID, Score: h.Score, Source: h.Source})
	}
	if len(res.Facets) > 0 {
		out.Aggregations = make(map[string]AggResult, len(res.Facets))
		for name, terms := range res.Facets {
			var agg AggResult
			for _, t := range terms {
				agg.Buckets = append(agg.Buckets, Bucket{Key: t.Term, DocCount: t.Count})
			}
			out.Aggregations[name] = agg
		}
	}
	return out
}
