package node

import (
	"encoding/json"

	"github.com/Aman-CERP/searchsync/internal/backend"
)

// Node protocol methods. The protocol is JSON-RPC 2.0, one JSON value per
// message, many requests per TCP connection.
const (
	MethodPing       = "node.ping"
	MethodStatus     = "node.status"
	MethodCreateIdx  = "index.create"
	MethodPutMapping = "index.put_mapping"
	MethodRefresh    = "index.refresh"
	MethodIndexDoc   = "doc.index"
	MethodDeleteDoc  = "doc.delete"
	MethodSearch     = "search"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Node-specific error codes.
const (
	ErrCodeAlreadyExists = -32010
	ErrCodeNotFound      = -32011
	ErrCodeEngine        = -32012
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      string          `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      string          `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (e *Error) Error() string {
	return e.Message
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrCodeInternalError, "failed to encode result")
	}
	return Response{JSONRPC: "2.0", Result: data, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// IndexParams addresses an index.
type IndexParams struct {
	Index string `json:"index"`
}

// MappingParams are the parameters of index.put_mapping.
type MappingParams struct {
	Index   string              `json:"index"`
	Type    string              `json:"type"`
	Mapping backend.TypeMapping `json:"mapping"`
}

// DocParams are the parameters of doc.index and doc.delete.
type DocParams struct {
	Index string          `json:"index"`
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// SearchParams are the parameters of search.
type SearchParams struct {
	Index   string                `json:"index"`
	Request backend.SearchRequest `json:"request"`
}

// AckResult acknowledges a write.
type AckResult struct {
	Acknowledged bool `json:"acknowledged"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong   bool   `json:"pong"`
	NodeID string `json:"node_id"`
}

// StatusResult describes a running node.
type StatusResult struct {
	NodeID   string            `json:"node_id"`
	Uptime   string            `json:"uptime"`
	Indexes  []IndexStats      `json:"indexes"`
	Settings map[string]string `json:"settings,omitempty"`
}
