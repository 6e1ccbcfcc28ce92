package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Aman-CERP/searchsync/internal/backend"
)

// Call records one client call.
type Call struct {
	Op    string
	Index string
	Type  string
	ID    string
}

// Fake is an in-memory backend.Client that records every call. Documents
// are returned in insertion order; only MatchAll, IDs and Term filters
// select, anything else matches everything.
type Fake struct {
	// Delay is slept inside every call, to widen race windows in tests.
	Delay time.Duration

	// Errors maps an op name ("CreateIndex", "IndexDocument", ...) to the
	// error the next calls of that op return.
	Errors map[string]error

	// QueryFunc overrides ExecuteQuery when set.
	QueryFunc func(index string, req backend.SearchRequest) (*backend.RawResult, error)

	mu      sync.Mutex
	calls   []Call
	indexes map[string]bool
	order   map[string][]string
	docs    map[string]map[string]json.RawMessage
}

var _ backend.Client = (*Fake)(nil)

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Errors:  make(map[string]error),
		indexes: make(map[string]bool),
		order:   make(map[string][]string),
		docs:    make(map[string]map[string]json.RawMessage),
	}
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the recorded calls of one op.
func (f *Fake) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// SetError makes op fail with err, or succeed again when err is nil.
func (f *Fake) SetError(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.Errors, op)
		return
	}
	f.Errors[op] = err
}

// Doc returns the stored body of id in index.
func (f *Fake) Doc(index, id string) (json.RawMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.docs[index][id]
	return body, ok
}

func (f *Fake) record(c Call) error {
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.Errors[c.Op]
}

// Name implements backend.Client.
func (f *Fake) Name() string { return "fake" }

// Start implements backend.Client.
func (f *Fake) Start(context.Context) error { return f.record(Call{Op: "Start"}) }

// CreateIndex implements backend.Client.
func (f *Fake) CreateIndex(_ context.Context, index string) error {
	if err := f.record(Call{Op: "CreateIndex", Index: index}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes[index] = true
	return nil
}

// CreateType implements backend.Client.
func (f *Fake) CreateType(_ context.Context, index, typeName string, _ backend.TypeMapping) error {
	return f.record(Call{Op: "CreateType", Index: index, Type: typeName})
}

// IndexDocument implements backend.Client.
func (f *Fake) IndexDocument(_ context.Context, index, typeName, id string, body json.RawMessage) error {
	if err := f.record(Call{Op: "IndexDocument", Index: index, Type: typeName, ID: id}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[index] == nil {
		f.docs[index] = make(map[string]json.RawMessage)
	}
	if _, exists := f.docs[index][id]; !exists {
		f.order[index] = append(f.order[index], id)
	}
	f.docs[index][id] = body
	return nil
}

// DeleteDocument implements backend.Client.
func (f *Fake) DeleteDocument(_ context.Context, index, typeName, id string) error {
	if err := f.record(Call{Op: "DeleteDocument", Index: index, Type: typeName, ID: id}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[index][id]; !ok {
		return nil
	}
	delete(f.docs[index], id)
	ids := f.order[index][:0]
	for _, existing := range f.order[index] {
		if existing != id {
			ids = append(ids, existing)
		}
	}
	f.order[index] = ids
	return nil
}

// ExecuteQuery implements backend.Client.
func (f *Fake) ExecuteQuery(_ context.Context, index string, req backend.SearchRequest) (*backend.RawResult, error) {
	if err := f.record(Call{Op: "ExecuteQuery", Index: index, Type: req.TypeName}); err != nil {
		return nil, err
	}
	if f.QueryFunc != nil {
		return f.QueryFunc(index, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []backend.Hit
	for _, id := range f.order[index] {
		body := f.docs[index][id]
		if !matches(req.Filter, id, body) {
			continue
		}
		h := backend.Hit{ID: id, Score: 1}
		if !req.IDsOnly {
			h.Source = body
		}
		matched = append(matched, h)
	}

	res := &backend.RawResult{Total: uint64(len(matched)), Hits: []backend.Hit{}}
	from, size := req.Page()
	if from < len(matched) {
		end := min(from+size, len(matched))
		res.Hits = append(res.Hits, matched[from:end]...)
	}
	return res, nil
}

func matches(f backend.Filter, id string, body json.RawMessage) bool {
	switch {
	case f.IDs != nil:
		for _, want := range f.IDs {
			if want == id {
				return true
			}
		}
		return false
	case f.Term != nil:
		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil {
			return false
		}
		return fmt.Sprint(fields[f.Term.Field]) == f.Term.Value
	default:
		return true
	}
}

// RefreshAll implements backend.Client.
func (f *Fake) RefreshAll(context.Context) error { return f.record(Call{Op: "RefreshAll"}) }

// Close implements backend.Client.
func (f *Fake) Close() error { return nil }
