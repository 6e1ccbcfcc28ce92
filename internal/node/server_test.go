package node

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchsync/internal/backend"
)

// startServer serves a fresh in-memory engine on a loopback port.
func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(newMemEngine(t))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, ln.Addr().String()
}

type rpcConn struct {
	t   *testing.T
	enc *json.Encoder
	dec *json.Decoder
}

func dialNode(t *testing.T, addr string) *rpcConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rpcConn{t: t, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}
}

func (c *rpcConn) call(method string, params any) Response {
	c.t.Helper()
	req := Request{JSONRPC: "2.0", Method: method, ID: method}
	if params != nil {
		data, err := json.Marshal(params)
		require.NoError(c.t, err)
		req.Params = data
	}
	require.NoError(c.t, c.enc.Encode(req))

	var resp Response
	require.NoError(c.t, c.dec.Decode(&resp))
	assert.Equal(c.t, req.ID, resp.ID)
	return resp
}

func TestServer_Ping(t *testing.T) {
	srv, addr := startServer(t)
	conn := dialNode(t, addr)

	resp := conn.call(MethodPing, nil)
	require.Nil(t, resp.Error)

	var pong PingResult
	require.NoError(t, json.Unmarshal(resp.Result, &pong))
	assert.True(t, pong.Pong)
	assert.Equal(t, srv.NodeID(), pong.NodeID)
	assert.NotNil(t, srv.Addr())
}

func TestServer_DocumentLifecycleOnOneConnection(t *testing.T) {
	_, addr := startServer(t)
	conn := dialNode(t, addr)

	require.Nil(t, conn.call(MethodCreateIdx, IndexParams{Index: "books"}).Error)

	resp := conn.call(MethodCreateIdx, IndexParams{Index: "books"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeAlreadyExists, resp.Error.Code)

	require.Nil(t, conn.call(MethodPutMapping, MappingParams{Index: "books", Type: "book", Mapping: articleMapping}).Error)
	require.Nil(t, conn.call(MethodIndexDoc, DocParams{
		Index: "books", Type: "book", ID: "b1", Body: json.RawMessage(`{"title":"dune"}`),
	}).Error)
	require.Nil(t, conn.call(MethodRefresh, nil).Error)

	resp = conn.call(MethodSearch, SearchParams{Index: "books", Request: backend.SearchRequest{
		Filter: backend.Match("title", "dune"), From: -1, Size: -1,
	}})
	require.Nil(t, resp.Error)
	var res backend.RawResult
	require.NoError(t, json.Unmarshal(resp.Result, &res))
	assert.Equal(t, []string{"b1"}, res.IDs())

	require.Nil(t, conn.call(MethodDeleteDoc, DocParams{Index: "books", Type: "book", ID: "b1"}).Error)
	resp = conn.call(MethodDeleteDoc, DocParams{Index: "books", Type: "book", ID: "b1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)

	resp = conn.call(MethodStatus, nil)
	require.Nil(t, resp.Error)
	var status StatusResult
	require.NoError(t, json.Unmarshal(resp.Result, &status))
	require.Len(t, status.Indexes, 1)
	assert.Equal(t, "books", status.Indexes[0].Name)
}

func TestServer_RejectsBadRequests(t *testing.T) {
	_, addr := startServer(t)
	conn := dialNode(t, addr)

	resp := conn.call("nope", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)

	resp = conn.call(MethodCreateIdx, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)

	require.NoError(t, conn.enc.Encode(Request{JSONRPC: "1.0", Method: MethodPing, ID: "old"}))
	var old Response
	require.NoError(t, conn.dec.Decode(&old))
	require.NotNil(t, old.Error)
	assert.Equal(t, ErrCodeInvalidRequest, old.Error.Code)
}

func TestServer_StopsOnCancel(t *testing.T) {
	srv := NewServer(newMemEngine(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	conn := dialNode(t, ln.Addr().String())
	require.Nil(t, conn.call(MethodPing, nil).Error)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
