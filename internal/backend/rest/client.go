// Package rest is the backend client for nodes that speak the
// Elasticsearch-style REST API, including searchsync nodes.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/config"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 << 10

// Options configures a Client.
type Options struct {
	// URLs are the base URLs of the nodes, tried in round-robin order.
	URLs []string

	// Timeout bounds every call (default 10s).
	Timeout time.Duration

	// Compress gzips request bodies.
	Compress bool

	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client

	// Retry controls endpoint probing in Start.
	Retry serrors.RetryConfig
}

// Client implements backend.Client over HTTP.
type Client struct {
	urls     []*url.URL
	http     *http.Client
	timeout  time.Duration
	compress bool
	retry    serrors.RetryConfig
	breaker  *serrors.CircuitBreaker

	mu   sync.RWMutex
	live []*url.URL
	next atomic.Uint32
}

var _ backend.Client = (*Client)(nil)

// New validates the URLs and returns an unstarted client.
func New(opts Options) (*Client, error) {
	if len(opts.URLs) == 0 {
		return nil, serrors.New(serrors.ErrCodeNoHosts, "rest backend needs at least one URL", nil)
	}
	c := &Client{
		http:     opts.HTTPClient,
		timeout:  opts.Timeout,
		compress: opts.Compress,
		retry:    opts.Retry,
		breaker:  serrors.NewCircuitBreaker("rest"),
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.retry == (serrors.RetryConfig{}) {
		c.retry = serrors.DefaultRetryConfig()
	}
	for _, raw := range opts.URLs {
		u, err := url.Parse(strings.TrimSuffix(raw, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, serrors.New(serrors.ErrCodeInvalidHost, fmt.Sprintf("invalid backend URL %q", raw), err)
		}
		c.urls = append(c.urls, u)
	}
	return c, nil
}

// NewFromConfig builds a client from the backend section of cfg.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	return New(Options{
		URLs:     cfg.Backend.URLs,
		Timeout:  cfg.Backend.Timeout,
		Compress: cfg.Backend.Compress,
	})
}

// Name implements backend.Client.
func (c *Client) Name() string { return "rest" }

// Start probes every URL concurrently and keeps the reachable ones.
func (c *Client) Start(ctx context.Context) error {
	reachable := make([]bool, len(c.urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range c.urls {
		g.Go(func() error {
			err := serrors.Retry(gctx, c.retry, func() error {
				_, _, err := c.send(gctx, u, http.MethodGet, "/", nil)
				return err
			})
			if err != nil {
				slog.Warn("backend_endpoint_unreachable",
					slog.String("url", u.String()),
					slog.String("error", err.Error()))
				return nil
			}
			reachable[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var live []*url.URL
	for i, ok := range reachable {
		if ok {
			live = append(live, c.urls[i])
		}
	}
	if len(live) == 0 {
		return serrors.New(serrors.ErrCodeBackendUnreachable, "no backend URL is reachable", nil).
			WithSuggestion("Check backend.urls and that the nodes are running")
	}

	c.mu.Lock()
	c.live = live
	c.mu.Unlock()
	slog.Info("backend_started", slog.String("backend", c.Name()), slog.Int("endpoints", len(live)))
	return nil
}

// CreateIndex implements backend.Client.
func (c *Client) CreateIndex(ctx context.Context, index string) error {
	err := c.do(ctx, http.MethodPut, "/"+url.PathEscape(index), nil, nil)
	return backend.Absorb(ctx, err, backend.ErrAlreadyExists, "index_exists", slog.String("index", index))
}

// CreateType implements backend.Client.
func (c *Client) CreateType(ctx context.Context, index, typeName string, mapping backend.TypeMapping) error {
	body := MappingBody{Properties: mapping.Properties, Meta: map[string]string{"type": typeName}}
	err := c.do(ctx, http.MethodPut, "/"+url.PathEscape(index)+"/_mapping", body, nil)
	return backend.Absorb(ctx, err, backend.ErrAlreadyExists, "type_exists",
		slog.String("index", index), slog.String("type", typeName))
}

// IndexDocument implements backend.Client.
func (c *Client) IndexDocument(ctx context.Context, index, typeName, id string, body json.RawMessage) error {
	return c.do(ctx, http.MethodPut, docPath(index, typeName, id), body, nil)
}

// DeleteDocument implements backend.Client.
func (c *Client) DeleteDocument(ctx context.Context, index, typeName, id string) error {
	err := c.do(ctx, http.MethodDelete, docPath(index, typeName, id), nil, nil)
	return backend.Absorb(ctx, err, backend.ErrNotFound, "delete_missing_document",
		slog.String("index", index), slog.String("id", id))
}

// ExecuteQuery implements backend.Client. A missing index yields no hits.
func (c *Client) ExecuteQuery(ctx context.Context, index string, req backend.SearchRequest) (*backend.RawResult, error) {
	var resp SearchResponse
	err := c.do(ctx, http.MethodPost, "/"+url.PathEscape(index)+"/_search", NewSearchBody(req), &resp)
	if errors.Is(err, backend.ErrNotFound) {
		slog.Debug("query_missing_index", slog.String("index", index))
		return &backend.RawResult{Hits: []backend.Hit{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Result(), nil
}

// RefreshAll implements backend.Client.
func (c *Client) RefreshAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/_refresh", nil, nil)
}

// Close implements backend.Client.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// docPath addresses one document. The type rides along as a query
// parameter so shared indexes keep documents apart by type.
func docPath(index, typeName, id string) string {
	p := "/" + url.PathEscape(index) + "/_doc/" + url.PathEscape(id)
	if typeName != "" {
		p += "?type=" + url.QueryEscape(typeName)
	}
	return p
}

// do runs one request against the live endpoints, failing over on
// transport errors, and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		if raw, ok := body.(json.RawMessage); ok {
			payload = raw
		} else if payload, err = json.Marshal(body); err != nil {
			return serrors.InternalError("failed to encode request", err)
		}
	}

	return c.breaker.Execute(func() error {
		endpoints := c.endpoints()
		start := int(c.next.Add(1))
		var lastErr error
		for i := range endpoints {
			u := endpoints[(start+i)%len(endpoints)]
			status, data, err := c.send(ctx, u, method, path, payload)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil {
					break
				}
				continue
			}
			if err := classify(method, path, status, data); err != nil {
				return err
			}
			if out != nil && len(data) > 0 {
				if err := json.Unmarshal(data, out); err != nil {
					return serrors.New(serrors.ErrCodeProtocol, "malformed response from "+u.Host, err)
				}
			}
			return nil
		}
		return lastErr
	}, isTransportError)
}

func (c *Client) endpoints() []*url.URL {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.live) > 0 {
		return c.live
	}
	return c.urls
}

// send performs one HTTP exchange. Only transport failures are errors.
func (c *Client) send(ctx context.Context, u *url.URL, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	encoded := false
	if payload != nil {
		if c.compress {
			var buf bytes.Buffer
			zw := gzip.NewWriter(&buf)
			if _, err := zw.Write(payload); err != nil {
				return 0, nil, serrors.InternalError("failed to compress request", err)
			}
			if err := zw.Close(); err != nil {
				return 0, nil, serrors.InternalError("failed to compress request", err)
			}
			reader = &buf
			encoded = true
		} else {
			reader = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String()+path, reader)
	if err != nil {
		return 0, nil, serrors.InternalError("failed to build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoded {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, serrors.New(serrors.ErrCodeBackendTimeout, method+" "+path+" timed out", err)
		}
		return 0, nil, serrors.New(serrors.ErrCodeBackendUnreachable, "cannot reach "+u.Host, err)
	}
	defer resp.Body.Close()

	limit := int64(maxErrorBody)
	if resp.StatusCode < 300 {
		limit = 1 << 30
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, nil, serrors.New(serrors.ErrCodeBackendUnreachable, "failed to read response from "+u.Host, err)
	}
	return resp.StatusCode, data, nil
}

// classify maps a non-2xx response onto backend sentinels or a rejection.
func classify(method, path string, status int, data []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var body ErrorBody
	_ = json.Unmarshal(data, &body)

	reason := body.Error.Reason
	if reason == "" {
		reason = strings.TrimSpace(string(data))
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s %s: %s: %w", method, path, reason, backend.ErrNotFound)
	case status == http.StatusBadRequest && body.Error.Type == ErrTypeAlreadyExists:
		return fmt.Errorf("%s %s: %s: %w", method, path, reason, backend.ErrAlreadyExists)
	}
	return serrors.New(serrors.ErrCodeBackendRejected,
		fmt.Sprintf("%s %s rejected with %d: %s", method, path, status, reason), nil)
}

func isTransportError(err error) bool {
	return serrors.HasCode(err, serrors.ErrCodeBackendUnreachable) ||
		serrors.HasCode(err, serrors.ErrCodeBackendTimeout)
}

// Status implements backend.StatusReporter against searchsync nodes.
func (c *Client) Status(ctx context.Context) (*backend.Status, error) {
	var body struct {
		Indexes []backend.IndexStatus `json:"indexes"`
	}
	if err := c.do(ctx, http.MethodGet, "/_searchsync/status", nil, &body); err != nil {
		return nil, err
	}
	st := &backend.Status{Backend: c.Name(), Indexes: body.Indexes}
	for _, u := range c.endpoints() {
		st.Endpoints = append(st.Endpoints, u.String())
	}
	return st, nil
}
