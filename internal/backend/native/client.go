// Package native is the backend client for searchsync nodes. It either
// embeds a node engine in-process (local mode) or speaks the node
// protocol to remote nodes over pooled TCP connections.
package native

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/config"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
	"github.com/Aman-CERP/searchsync/internal/node"
)

// restPort is the usual REST port; native hosts normally use the node port.
const restPort = 9200

// Options configures a Client.
type Options struct {
	// Local embeds a node engine instead of connecting to Hosts.
	Local bool

	// Hosts are host:port node protocol endpoints (remote mode).
	Hosts []string

	// DataDir persists the embedded engine. Empty keeps it in memory.
	DataDir string

	// Settings are forwarded to the embedded engine.
	Settings map[string]string

	// Timeout bounds every call (default 10s).
	Timeout time.Duration

	// PoolSize is the idle connections kept per remote host (default 4).
	PoolSize int

	// Retry controls endpoint probing in Start.
	Retry serrors.RetryConfig
}

// Client implements backend.Client for searchsync nodes.
type Client struct {
	opts      Options
	endpoints []config.Endpoint
	breaker   *serrors.CircuitBreaker

	mu sync.RWMutex
	t  transport
}

var (
	_ backend.Client         = (*Client)(nil)
	_ backend.StatusReporter = (*Client)(nil)
)

var errNotStarted = serrors.InternalError("native backend is not started", nil)

// New validates opts and returns an unstarted client.
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	if opts.Retry == (serrors.RetryConfig{}) {
		opts.Retry = serrors.DefaultRetryConfig()
	}
	c := &Client{opts: opts, breaker: serrors.NewCircuitBreaker("native")}
	if opts.Local {
		return c, nil
	}

	if len(opts.Hosts) == 0 {
		return nil, serrors.New(serrors.ErrCodeNoHosts, "native backend in remote mode needs at least one host", nil).
			WithSuggestion("Set backend.hosts or backend.local: true")
	}
	endpoints, err := config.ParseHosts(opts.Hosts)
	if err != nil {
		return nil, err
	}
	c.endpoints = endpoints
	return c, nil
}

// NewFromConfig builds a client from the backend section of cfg.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	return New(Options{
		Local:    cfg.Backend.IsLocal(),
		Hosts:    cfg.Backend.Hosts,
		DataDir:  cfg.Backend.DataDir,
		Settings: cfg.Native,
		Timeout:  cfg.Backend.Timeout,
	})
}

// Name implements backend.Client.
func (c *Client) Name() string {
	if c.opts.Local {
		return "native-local"
	}
	return "native-remote"
}

// Start opens the embedded engine, or probes every remote host and keeps
// the reachable ones.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t != nil {
		return nil
	}

	if c.opts.Local {
		engine, err := node.NewEngine(node.Options{DataDir: c.opts.DataDir, Settings: c.opts.Settings})
		if err != nil {
			return serrors.BackendError("failed to start embedded node", err)
		}
		c.t = &localTransport{engine: engine}
		slog.Info("backend_started", slog.String("backend", c.Name()), slog.String("data_dir", c.opts.DataDir))
		return nil
	}

	for _, ep := range c.endpoints {
		if ep.Port == restPort {
			slog.Info("native_host_on_rest_port",
				slog.String("host", ep.String()),
				slog.String("hint", "native hosts speak the node protocol, usually on port 9300"))
		}
	}

	pools := make([]*connPool, len(c.endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range c.endpoints {
		g.Go(func() error {
			pool := newConnPool(ep.String(), c.opts.PoolSize, c.opts.Timeout)
			err := serrors.Retry(gctx, c.opts.Retry, func() error {
				pctx, cancel := context.WithTimeout(gctx, c.opts.Timeout)
				defer cancel()
				var pong node.PingResult
				return pool.call(pctx, node.MethodPing, nil, &pong)
			})
			if err != nil {
				slog.Warn("backend_endpoint_unreachable",
					slog.String("host", ep.String()),
					slog.String("error", err.Error()))
				pool.close()
				return nil
			}
			pools[i] = pool
			return nil
		})
	}
	_ = g.Wait()

	var live []*connPool
	for _, p := range pools {
		if p != nil {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return serrors.New(serrors.ErrCodeBackendUnreachable, "no native host is reachable", nil).
			WithSuggestion("Check backend.hosts and that `searchsync node` is running")
	}
	c.t = &remoteTransport{pools: live}
	slog.Info("backend_started", slog.String("backend", c.Name()), slog.Int("endpoints", len(live)))
	return nil
}

// CreateIndex implements backend.Client.
func (c *Client) CreateIndex(ctx context.Context, index string) error {
	err := c.run(ctx, func(ctx context.Context, t transport) error {
		return t.createIndex(ctx, index)
	})
	return backend.Absorb(ctx, err, backend.ErrAlreadyExists, "index_exists", slog.String("index", index))
}

// CreateType implements backend.Client.
func (c *Client) CreateType(ctx context.Context, index, typeName string, mapping backend.TypeMapping) error {
	err := c.run(ctx, func(ctx context.Context, t transport) error {
		return t.createType(ctx, index, typeName, mapping)
	})
	return backend.Absorb(ctx, err, backend.ErrAlreadyExists, "type_exists",
		slog.String("index", index), slog.String("type", typeName))
}

// IndexDocument implements backend.Client.
func (c *Client) IndexDocument(ctx context.Context, index, typeName, id string, body json.RawMessage) error {
	return c.run(ctx, func(ctx context.Context, t transport) error {
		return t.indexDocument(ctx, index, typeName, id, body)
	})
}

// DeleteDocument implements backend.Client.
func (c *Client) DeleteDocument(ctx context.Context, index, typeName, id string) error {
	err := c.run(ctx, func(ctx context.Context, t transport) error {
		return t.deleteDocument(ctx, index, typeName, id)
	})
	return backend.Absorb(ctx, err, backend.ErrNotFound, "delete_missing_document",
		slog.String("index", index), slog.String("id", id))
}

// ExecuteQuery implements backend.Client. A missing index yields no hits.
func (c *Client) ExecuteQuery(ctx context.Context, index string, req backend.SearchRequest) (*backend.RawResult, error) {
	var res *backend.RawResult
	err := c.run(ctx, func(ctx context.Context, t transport) error {
		var err error
		res, err = t.search(ctx, index, req)
		return err
	})
	if errors.Is(err, backend.ErrNotFound) {
		slog.Debug("query_missing_index", slog.String("index", index))
		return &backend.RawResult{Hits: []backend.Hit{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RefreshAll implements backend.Client.
func (c *Client) RefreshAll(ctx context.Context) error {
	return c.run(ctx, func(ctx context.Context, t transport) error {
		return t.refresh(ctx)
	})
}

// Status implements backend.StatusReporter.
func (c *Client) Status(ctx context.Context) (*backend.Status, error) {
	var st *node.StatusResult
	err := c.run(ctx, func(ctx context.Context, t transport) error {
		var err error
		st, err = t.status(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &backend.Status{Backend: c.Name(), Indexes: make([]backend.IndexStatus, 0, len(st.Indexes))}
	for _, ep := range c.endpoints {
		out.Endpoints = append(out.Endpoints, ep.String())
	}
	for _, idx := range st.Indexes {
		out.Indexes = append(out.Indexes, backend.IndexStatus{Name: idx.Name, Documents: idx.Documents})
	}
	return out, nil
}

// Close implements backend.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t == nil {
		return nil
	}
	err := c.t.close()
	c.t = nil
	return err
}

// run applies the call timeout and the circuit breaker to fn.
func (c *Client) run(ctx context.Context, fn func(context.Context, transport) error) error {
	c.mu.RLock()
	t := c.t
	c.mu.RUnlock()
	if t == nil {
		return errNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.breaker.Execute(func() error {
		return fn(ctx, t)
	}, isTransportError)
}

func isTransportError(err error) bool {
	return serrors.HasCode(err, serrors.ErrCodeBackendUnreachable) ||
		serrors.HasCode(err, serrors.ErrCodeBackendTimeout)
}
