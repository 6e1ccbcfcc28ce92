package backend

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Filter is the backend-neutral query tree. Exactly one clause is set.
type Filter struct {
	MatchAll    bool       `json:"match_all,omitempty"`
	Match       *FieldText `json:"match,omitempty"`
	Term        *FieldText `json:"term,omitempty"`
	IDs         []string   `json:"ids,omitempty"`
	QueryString string     `json:"query_string,omitempty"`
	Range       *Range     `json:"range,omitempty"`
	Bool        *Bool      `json:"bool,omitempty"`
}

// FieldText pairs a field with a value. An empty field means all fields.
type FieldText struct {
	Field string `json:"field,omitempty"`
	Value string `json:"value"`
}

// Range is an inclusive numeric range. Nil bounds are open.
type Range struct {
	Field string   `json:"field"`
	GTE   *float64 `json:"gte,omitempty"`
	LTE   *float64 `json:"lte,omitempty"`
}

// Bool combines filters.
type Bool struct {
	Must    []Filter `json:"must,omitempty"`
	Should  []Filter `json:"should,omitempty"`
	MustNot []Filter `json:"must_not,omitempty"`
}

// MatchAll matches every document.
func MatchAll() Filter { return Filter{MatchAll: true} }

// Match is an analyzed full-text match on field.
func Match(field, text string) Filter { return Filter{Match: &FieldText{Field: field, Value: text}} }

// Term is an exact, unanalyzed match on field.
func Term(field, value string) Filter { return Filter{Term: &FieldText{Field: field, Value: value}} }

// IDs matches documents by id.
func IDs(ids ...string) Filter { return Filter{IDs: append([]string{}, ids...)} }

// QueryString parses q with the backend's query-string syntax.
func QueryString(q string) Filter { return Filter{QueryString: q} }

// NumericRange matches field values within [gte, lte].
func NumericRange(field string, gte, lte *float64) Filter {
	return Filter{Range: &Range{Field: field, GTE: gte, LTE: lte}}
}

// And requires all filters.
func And(fs ...Filter) Filter { return Filter{Bool: &Bool{Must: fs}} }

// Or requires at least one filter.
func Or(fs ...Filter) Filter { return Filter{Bool: &Bool{Should: fs}} }

// Not excludes documents matching f.
func Not(f Filter) Filter { return Filter{Bool: &Bool{MustNot: []Filter{f}}} }

// Validate checks that exactly one clause is set, recursively.
func (f Filter) Validate() error {
	n := 0
	if f.MatchAll {
		n++
	}
	if f.Match != nil {
		n++
	}
	if f.Term != nil {
		n++
		if f.Term.Field == "" {
			return fmt.Errorf("term filter needs a field")
		}
	}
	if f.IDs != nil {
		n++
	}
	if f.QueryString != "" {
		n++
	}
	if f.Range != nil {
		n++
		if f.Range.Field == "" {
			return fmt.Errorf("range filter needs a field")
		}
	}
	if f.Bool != nil {
		n++
		if len(f.Bool.Must)+len(f.Bool.Should)+len(f.Bool.MustNot) == 0 {
			return fmt.Errorf("bool filter has no clauses")
		}
		for _, group := range [][]Filter{f.Bool.Must, f.Bool.Should, f.Bool.MustNot} {
			for _, sub := range group {
				if err := sub.Validate(); err != nil {
					return err
				}
			}
		}
	}
	if n != 1 {
		return fmt.Errorf("filter must have exactly one clause, has %d", n)
	}
	return nil
}

// DSL renders f as an Elasticsearch query object.
func (f Filter) DSL() map[string]any {
	switch {
	case f.MatchAll:
		return map[string]any{"match_all": map[string]any{}}
	case f.Match != nil:
		if f.Match.Field == "" {
			return map[string]any{"multi_match": map[string]any{"query": f.Match.Value, "fields": []string{"*"}}}
		}
		return map[string]any{"match": map[string]any{f.Match.Field: f.Match.Value}}
	case f.Term != nil:
		return map[string]any{"term": map[string]any{f.Term.Field: f.Term.Value}}
	case f.IDs != nil:
		return map[string]any{"ids": map[string]any{"values": f.IDs}}
	case f.QueryString != "":
		return map[string]any{"query_string": map[string]any{"query": f.QueryString}}
	case f.Range != nil:
		bounds := map[string]any{}
		if f.Range.GTE != nil {
			bounds["gte"] = *f.Range.GTE
		}
		if f.Range.LTE != nil {
			bounds["lte"] = *f.Range.LTE
		}
		return map[string]any{"range": map[string]any{f.Range.Field: bounds}}
	case f.Bool != nil:
		b := map[string]any{}
		add := func(key string, fs []Filter) {
			if len(fs) == 0 {
				return
			}
			out := make([]any, len(fs))
			for i, sub := range fs {
				out[i] = sub.DSL()
			}
			b[key] = out
		}
		add("must", f.Bool.Must)
		add("should", f.Bool.Should)
		add("must_not", f.Bool.MustNot)
		if len(f.Bool.Should) > 0 && len(f.Bool.Must) == 0 {
			b["minimum_should_match"] = 1
		}
		return map[string]any{"bool": b}
	}
	return map[string]any{"match_none": map[string]any{}}
}

// ParseDSL is the inverse of DSL for the clauses Filter supports.
func ParseDSL(raw json.RawMessage) (Filter, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return MatchAll(), nil
	}
	var q map[string]json.RawMessage
	if err := json.Unmarshal(raw, &q); err != nil {
		return Filter{}, fmt.Errorf("query must be an object: %w", err)
	}
	if len(q) != 1 {
		return Filter{}, fmt.Errorf("query must have exactly one clause, has %d", len(q))
	}

	for name, body := range q {
		switch name {
		case "match_all":
			return MatchAll(), nil
		case "match":
			field, value, err := singleField(body, "query")
			if err != nil {
				return Filter{}, fmt.Errorf("match: %w", err)
			}
			return Match(field, value), nil
		case "multi_match":
			var mm struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(body, &mm); err != nil {
				return Filter{}, fmt.Errorf("multi_match: %w", err)
			}
			return Match("", mm.Query), nil
		case "term":
			field, value, err := singleField(body, "value")
			if err != nil {
				return Filter{}, fmt.Errorf("term: %w", err)
			}
			return Term(field, value), nil
		case "ids":
			var ids struct {
				Values []string `json:"values"`
			}
			if err := json.Unmarshal(body, &ids); err != nil {
				return Filter{}, fmt.Errorf("ids: %w", err)
			}
			return IDs(ids.Values...), nil
		case "query_string":
			var qs struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(body, &qs); err != nil {
				return Filter{}, fmt.Errorf("query_string: %w", err)
			}
			return QueryString(qs.Query), nil
		case "range":
			var r map[string]struct {
				GTE *float64 `json:"gte"`
				LTE *float64 `json:"lte"`
			}
			if err := json.Unmarshal(body, &r); err != nil || len(r) != 1 {
				return Filter{}, fmt.Errorf("range: expected one numeric field")
			}
			for field, b := range r {
				return NumericRange(field, b.GTE, b.LTE), nil
			}
		case "bool":
			return parseBool(body)
		default:
			return Filter{}, fmt.Errorf("unsupported query clause %q", name)
		}
	}
	return Filter{}, fmt.Errorf("empty query")
}

func parseBool(body json.RawMessage) (Filter, error) {
	var b map[string]json.RawMessage
	if err := json.Unmarshal(body, &b); err != nil {
		return Filter{}, fmt.Errorf("bool: %w", err)
	}
	out := &Bool{}
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		var target *[]Filter
		switch key {
		case "must", "filter":
			target = &out.Must
		case "should":
			target = &out.Should
		case "must_not":
			target = &out.MustNot
		case "minimum_should_match", "boost":
			continue
		default:
			return Filter{}, fmt.Errorf("bool: unsupported key %q", key)
		}
		clauses, err := clauseList(b[key])
		if err != nil {
			return Filter{}, fmt.Errorf("bool.%s: %w", key, err)
		}
		for _, c := range clauses {
			sub, err := ParseDSL(c)
			if err != nil {
				return Filter{}, err
			}
			*target = append(*target, sub)
		}
	}
	return Filter{Bool: out}, nil
}

// clauseList accepts a single clause object or an array of them.
func clauseList(raw json.RawMessage) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single map[string]json.RawMessage
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}

// singleField decodes {"field": value} or {"field": {inner: value}}.
func singleField(body json.RawMessage, inner string) (string, string, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return "", "", err
	}
	if len(m) != 1 {
		return "", "", fmt.Errorf("expected one field, got %d", len(m))
	}
	for field, v := range m {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(v, &obj); err == nil {
			v = obj[inner]
		}
		value, err := scalar(v)
		return field, value, err
	}
	return "", "", fmt.Errorf("no field")
}

func scalar(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case float64, bool:
		return fmt.Sprint(t), nil
	default:
		return "", fmt.Errorf("expected a scalar value")
	}
}
