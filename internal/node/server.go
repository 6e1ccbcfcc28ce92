package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/searchsync/internal/backend"
)

// idleTimeout closes connections that send nothing for this long.
const idleTimeout = 5 * time.Minute

// Server serves an Engine over the node protocol.
type Server struct {
	engine  *Engine
	nodeID  string
	started time.Time

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for engine.
func NewServer(engine *Engine) *Server {
	return &Server{
		engine: engine,
		nodeID: uuid.NewString(),
		conns:  make(map[net.Conn]struct{}),
	}
}

// NodeID identifies this server instance.
func (s *Server) NodeID() string {
	return s.nodeID
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.started = time.Now()
	s.mu.Unlock()

	slog.Info("node_listening", slog.String("addr", ln.Addr().String()), slog.String("node_id", s.nodeID))

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

// handleConnection serves requests on conn until the peer hangs up.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		if err := conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		var req Request
		if err := decoder.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				var netErr net.Error
				if !errors.As(err, &netErr) {
					_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
				}
			}
			return
		}

		if err := encoder.Encode(s.handleRequest(ctx, req)); err != nil {
			return
		}
	}
}

// handleRequest dispatches a request to the engine.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be 2.0")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true, NodeID: s.nodeID})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.status())

	case MethodCreateIdx:
		var p IndexParams
		if err := decodeParams(req, &p); err != nil {
			return *err
		}
		return ack(req.ID, s.engine.CreateIndex(p.Index))

	case MethodPutMapping:
		var p MappingParams
		if err := decodeParams(req, &p); err != nil {
			return *err
		}
		return ack(req.ID, s.engine.CreateType(p.Index, p.Type, p.Mapping))

	case MethodIndexDoc:
		var p DocParams
		if err := decodeParams(req, &p); err != nil {
			return *err
		}
		return ack(req.ID, s.engine.IndexDocument(p.Index, p.Type, p.ID, p.Body))

	case MethodDeleteDoc:
		var p DocParams
		if err := decodeParams(req, &p); err != nil {
			return *err
		}
		return ack(req.ID, s.engine.DeleteDocument(p.Index, p.Type, p.ID))

	case MethodSearch:
		var p SearchParams
		if err := decodeParams(req, &p); err != nil {
			return *err
		}
		res, err := s.engine.Search(ctx, p.Index, p.Request)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return NewSuccessResponse(req.ID, res)

	case MethodRefresh:
		return ack(req.ID, s.engine.Refresh())

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) status() StatusResult {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	return StatusResult{
		NodeID:   s.nodeID,
		Uptime:   time.Since(started).Round(time.Second).String(),
		Indexes:  s.engine.Stats(),
		Settings: s.engine.Settings(),
	}
}

func decodeParams(req Request, v any) *Response {
	if len(req.Params) == 0 {
		resp := NewErrorResponse(req.ID, ErrCodeInvalidParams, "params are required")
		return &resp
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		resp := NewErrorResponse(req.ID, ErrCodeInvalidParams, "failed to decode params: "+err.Error())
		return &resp
	}
	return nil
}

func ack(id string, err error) Response {
	if err != nil {
		return errorResponse(id, err)
	}
	return NewSuccessResponse(id, AckResult{Acknowledged: true})
}

// errorResponse maps engine errors onto protocol error codes.
func errorResponse(id string, err error) Response {
	switch {
	case errors.Is(err, backend.ErrAlreadyExists):
		return NewErrorResponse(id, ErrCodeAlreadyExists, err.Error())
	case errors.Is(err, backend.ErrNotFound):
		return NewErrorResponse(id, ErrCodeNotFound, err.Error())
	default:
		return NewErrorResponse(id, ErrCodeEngine, err.Error())
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil
	}
	s.shutdown = true
	for c := range s.conns {
		_ = c.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
