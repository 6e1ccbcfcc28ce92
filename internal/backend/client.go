// Package backend defines the contract every search backend client meets.
//
// Two implementations exist: backend/native speaks the node protocol (or
// embeds a node in-process) and backend/rest speaks the Elasticsearch-style
// REST API. Callers cannot tell them apart.
package backend

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrAlreadyExists is returned by a transport when an index or type exists.
// Clients absorb it; it never reaches callers of Client.
var ErrAlreadyExists = errors.New("already exists")

// ErrNotFound is returned by a transport when an index or document is
// missing. Clients absorb it on delete.
var ErrNotFound = errors.New("not found")

// Client is a search backend.
//
// CreateIndex and CreateType succeed when the target already exists.
// DeleteDocument succeeds when the document or its index does not exist.
// Every call is bounded by the client's configured timeout.
type Client interface {
	// Name identifies the implementation, e.g. "native-local".
	Name() string

	// Start connects to the backend. It fails when no endpoint is reachable.
	Start(ctx context.Context) error

	CreateIndex(ctx context.Context, index string) error
	CreateType(ctx context.Context, index, typeName string, mapping TypeMapping) error

	// IndexDocument creates or replaces the document with the given id.
	IndexDocument(ctx context.Context, index, typeName, id string, body json.RawMessage) error
	DeleteDocument(ctx context.Context, index, typeName, id string) error

	// ExecuteQuery returns matched ids in backend order plus facet counts.
	ExecuteQuery(ctx context.Context, index string, req SearchRequest) (*RawResult, error)

	// RefreshAll makes recent writes visible to searches.
	RefreshAll(ctx context.Context) error

	Close() error
}

// IsAlreadyExists reports whether err means "already exists".
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsNotFound reports whether err means "missing".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
