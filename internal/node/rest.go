package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/backend/rest"
	"github.com/Aman-CERP/searchsync/pkg/version"
)

// maxBodyBytes bounds request bodies on the REST surface.
const maxBodyBytes = 32 << 20

// RESTHandler serves the Elasticsearch-compatible subset of the node API
// that the rest backend client speaks.
type RESTHandler struct {
	engine *Engine
	nodeID string
	mux    *http.ServeMux
}

// NewRESTHandler returns an http.Handler over engine.
func NewRESTHandler(engine *Engine, nodeID string) *RESTHandler {
	h := &RESTHandler{engine: engine, nodeID: nodeID, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /{$}", h.handleInfo)
	h.mux.HandleFunc("GET /_searchsync/status", h.handleStatus)
	h.mux.HandleFunc("POST /_refresh", h.handleRefresh)
	h.mux.HandleFunc("POST /{index}/_refresh", h.handleRefresh)
	h.mux.HandleFunc("PUT /{index}", h.handleCreateIndex)
	h.mux.HandleFunc("PUT /{index}/_mapping", h.handlePutMapping)
	h.mux.HandleFunc("PUT /{index}/_doc/{id}", h.handleIndexDoc)
	h.mux.HandleFunc("DELETE /{index}/_doc/{id}", h.handleDeleteDoc)
	h.mux.HandleFunc("POST /{index}/_search", h.handleSearch)
	h.mux.HandleFunc("GET /{index}/_search", h.handleSearch)
	return h
}

// ServeHTTP implements http.Handler.
func (h *RESTHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.mux.ServeHTTP(w, r)
	slog.Debug("rest_request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Duration("duration", time.Since(start)))
}

func (h *RESTHandler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    h.nodeID,
		"tagline": "searchsync node",
		"version": map[string]string{"number": version.Version},
	})
}

func (h *RESTHandler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResult{
		NodeID:   h.nodeID,
		Indexes:  h.engine.Stats(),
		Settings: h.engine.Settings(),
	})
}

func (h *RESTHandler) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if err := h.engine.Refresh(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"_shards": map[string]int{"total": 1, "successful": 1, "failed": 0}})
}

func (h *RESTHandler) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	index := r.PathValue("index")
	if err := h.engine.CreateIndex(index); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": index})
}

func (h *RESTHandler) handlePutMapping(w http.ResponseWriter, r *http.Request) {
	var body rest.MappingBody
	if err := readJSON(r, &body); err != nil {
		writeBadRequest(w, rest.ErrTypeParse, err)
		return
	}
	typeName := body.Meta["type"]
	if typeName == "" {
		typeName = r.PathValue("index")
	}
	tm := backend.TypeMapping{Properties: body.Properties}
	if err := h.engine.CreateType(r.PathValue("index"), typeName, tm); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

func (h *RESTHandler) handleIndexDoc(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, rest.ErrTypeParse, err)
		return
	}
	index, id := r.PathValue("index"), r.PathValue("id")
	if err := h.engine.IndexDocument(index, r.URL.Query().Get("type"), id, body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"_index": index, "_id": id, "result": "updated"})
}

func (h *RESTHandler) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	index, id := r.PathValue("index"), r.PathValue("id")
	err := h.engine.DeleteDocument(index, r.URL.Query().Get("type"), id)
	if errors.Is(err, backend.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"_index": index, "_id": id, "result": "not_found"})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"_index": index, "_id": id, "result": "deleted"})
}

func (h *RESTHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	body, err := readBody(r)
	if err != nil {
		writeBadRequest(w, rest.ErrTypeParse, err)
		return
	}
	req, err := rest.ParseSearchBody(body)
	if err != nil {
		writeBadRequest(w, rest.ErrTypeParse, err)
		return
	}

	index := r.PathValue("index")
	res, err := h.engine.Search(r.Context(), index, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rest.NewSearchResponse(index, res, int(time.Since(start).Milliseconds())))
}

// readBody reads the request body, inflating it when gzip-encoded.
func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer func() { _ = zr.Close() }()
		reader = io.LimitReader(zr, maxBodyBytes)
	}
	return io.ReadAll(reader)
}

func readJSON(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("rest_write_failed", slog.String("error", err.Error()))
	}
}

func writeBadRequest(w http.ResponseWriter, typ string, err error) {
	writeJSON(w, http.StatusBadRequest, rest.ErrorBody{
		Error:  rest.ErrorCause{Type: typ, Reason: err.Error()},
		Status: http.StatusBadRequest,
	})
}

// writeError maps engine errors onto Elasticsearch status codes and types.
func writeError(w http.ResponseWriter, err error) {
	status, typ := http.StatusInternalServerError, "exception"
	switch {
	case errors.Is(err, backend.ErrAlreadyExists):
		status, typ = http.StatusBadRequest, rest.ErrTypeAlreadyExists
	case errors.Is(err, backend.ErrNotFound):
		status, typ = http.StatusNotFound, rest.ErrTypeIndexNotFound
	}
	writeJSON(w, status, rest.ErrorBody{
		Error:  rest.ErrorCause{Type: typ, Reason: err.Error()},
		Status: status,
	})
}
