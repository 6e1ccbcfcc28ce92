package native

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/searchsync/internal/backend"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/node"
)

// remoteTransport spreads calls round-robin over live nodes and fails
// over to the next node on transport errors.
type remoteTransport struct {
	pools []*connPool
	next  atomic.Uint32
}

func (r *remoteTransport) call(ctx context.Context, method string, params, result any) error {
	start := int(r.next.Add(1))
	var lastErr error
	for i := range r.pools {
		p := r.pools[(start+i)%len(r.pools)]
		err := p.call(ctx, method, params, result)
		if err == nil || !isTransportError(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return lastErr
}

func (r *remoteTransport) createIndex(ctx context.Context, index string) error {
	return r.call(ctx, node.MethodCreateIdx, node.IndexParams{Index: index}, nil)
}

func (r *remoteTransport) createType(ctx context.Context, index, typeName string, mapping backend.TypeMapping) error {
	return r.call(ctx, node.MethodPutMapping, node.MappingParams{Index: index, Type: typeName, Mapping: mapping}, nil)
}

func (r *remoteTransport) indexDocument(ctx context.Context, index, typeName, id string, body json.RawMessage) error {
	return r.call(ctx, node.MethodIndexDoc, node.DocParams{Index: index, Type: typeName, ID: id, Body: body}, nil)
}

func (r *remoteTransport) deleteDocument(ctx context.Context, index, typeName, id string) error {
	return r.call(ctx, node.MethodDeleteDoc, node.DocParams{Index: index, Type: typeName, ID: id}, nil)
}

func (r *remoteTransport) search(ctx context.Context, index string, req backend.SearchRequest) (*backend.RawResult, error) {
	var res backend.RawResult
	if err := r.call(ctx, node.MethodSearch, node.SearchParams{Index: index, Request: req}, &res); err != nil {
		return nil, err
	}
	if res.Hits == nil {
		res.Hits = []backend.Hit{}
	}
	return &res, nil
}

func (r *remoteTransport) refresh(ctx context.Context) error {
	return r.call(ctx, node.MethodRefresh, nil, nil)
}

func (r *remoteTransport) status(ctx context.Context) (*node.StatusResult, error) {
	var st node.StatusResult
	if err := r.call(ctx, node.MethodStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *remoteTransport) close() error {
	for _, p := range r.pools {
		p.close()
	}
	return nil
}

// rpcConn is one persistent node protocol connection.
type rpcConn struct {
	conn net.Conn
	enc  *json.Encoder
	dec  *json.Decoder
}

// connPool keeps idle connections to one node.
type connPool struct {
	addr        string
	dialTimeout time.Duration
	idle        chan *rpcConn
}

func newConnPool(addr string, size int, dialTimeout time.Duration) *connPool {
	return &connPool{addr: addr, dialTimeout: dialTimeout, idle: make(chan *rpcConn, size)}
}

// get returns an idle connection, or dials a new one. reused reports
// whether the connection came from the pool.
func (p *connPool) get(ctx context.Context) (c *rpcConn, reused bool, err error) {
	select {
	case c := <-p.idle:
		return c, true, nil
	default:
	}
	d := net.Dialer{Timeout: p.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, false, transportError(ctx, p.addr, err)
	}
	return &rpcConn{conn: conn, enc: json.NewEncoder(conn), dec: json.NewDecoder(conn)}, false, nil
}

func (p *connPool) put(c *rpcConn) {
	select {
	case p.idle <- c:
	default:
		_ = c.conn.Close()
	}
}

func (p *connPool) close() {
	for {
		select {
		case c := <-p.idle:
			_ = c.conn.Close()
		default:
			return
		}
	}
}

// call sends one request. A pooled connection that the node has since
// closed is retried once on a fresh connection.
func (p *connPool) call(ctx context.Context, method string, params, result any) error {
	req := node.Request{JSONRPC: "2.0", Method: method, ID: uuid.NewString()}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return serrors.InternalError("failed to encode params", err)
		}
		req.Params = data
	}

	for {
		c, reused, err := p.get(ctx)
		if err != nil {
			return err
		}
		resp, err := p.exchange(ctx, c, req)
		if err != nil {
			_ = c.conn.Close()
			if reused && ctx.Err() == nil && !serrors.HasCode(err, serrors.ErrCodeProtocol) {
				continue
			}
			return err
		}
		p.put(c)
		return decodeResponse(method, resp, result)
	}
}

func (p *connPool) exchange(ctx context.Context, c *rpcConn, req node.Request) (*node.Response, error) {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, transportError(ctx, p.addr, err)
	}
	if err := c.enc.Encode(req); err != nil {
		return nil, transportError(ctx, p.addr, err)
	}
	var resp node.Response
	if err := c.dec.Decode(&resp); err != nil {
		return nil, transportError(ctx, p.addr, err)
	}
	if resp.ID != req.ID {
		return nil, serrors.New(serrors.ErrCodeProtocol,
			fmt.Sprintf("response id %q does not match request %q", resp.ID, req.ID), nil)
	}
	return &resp, nil
}

// decodeResponse maps protocol errors onto backend sentinels.
func decodeResponse(method string, resp *node.Response, result any) error {
	if resp.Error != nil {
		switch resp.Error.Code {
		case node.ErrCodeAlreadyExists:
			return fmt.Errorf("%s: %s: %w", method, resp.Error.Message, backend.ErrAlreadyExists)
		case node.ErrCodeNotFound:
			return fmt.Errorf("%s: %s: %w", method, resp.Error.Message, backend.ErrNotFound)
		default:
			return serrors.New(serrors.ErrCodeBackendRejected,
				fmt.Sprintf("%s rejected (code %d): %s", method, resp.Error.Code, resp.Error.Message), resp.Error)
		}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return serrors.New(serrors.ErrCodeProtocol, "malformed "+method+" result", err)
		}
	}
	return nil
}

func transportError(ctx context.Context, addr string, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return serrors.New(serrors.ErrCodeBackendTimeout, "call to "+addr+" timed out", err)
	}
	return serrors.New(serrors.ErrCodeBackendUnreachable, "cannot reach "+addr, err)
}
