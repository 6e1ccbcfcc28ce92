package native

import (
	"context"
	"encoding/json"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/node"
)

// transport carries client calls to a node. Errors wrap backend sentinels
// for "already exists" and "not found".
type transport interface {
	createIndex(ctx context.Context, index string) error
	createType(ctx context.Context, index, typeName string, mapping backend.TypeMapping) error
	indexDocument(ctx context.Context, index, typeName, id string, body json.RawMessage) error
	deleteDocument(ctx context.Context, index, typeName, id string) error
	search(ctx context.Context, index string, req backend.SearchRequest) (*backend.RawResult, error)
	refresh(ctx context.Context) error
	status(ctx context.Context) (*node.StatusResult, error)
	close() error
}

// localTransport calls an embedded engine directly.
type localTransport struct {
	engine *node.Engine
}

func (l *localTransport) createIndex(_ context.Context, index string) error {
	return l.engine.CreateIndex(index)
}

func (l *localTransport) createType(_ context.Context, index, typeName string, mapping backend.TypeMapping) error {
	return l.engine.CreateType(index, typeName, mapping)
}

func (l *localTransport) indexDocument(_ context.Context, index, typeName, id string, body json.RawMessage) error {
	return l.engine.IndexDocument(index, typeName, id, body)
}

func (l *localTransport) deleteDocument(_ context.Context, index, typeName, id string) error {
	return l.engine.DeleteDocument(index, typeName, id)
}

func (l *localTransport) search(ctx context.Context, index string, req backend.SearchRequest) (*backend.RawResult, error) {
	return l.engine.Search(ctx, index, req)
}

func (l *localTransport) refresh(context.Context) error {
	return l.engine.Refresh()
}

func (l *localTransport) status(context.Context) (*node.StatusResult, error) {
	return &node.StatusResult{NodeID: "local", Indexes: l.engine.Stats(), Settings: l.engine.Settings()}, nil
}

func (l *localTransport) close() error {
	return l.engine.Close()
}
