package node

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchsync/internal/backend/rest"
)

func doREST(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestRESTHandler_IndexLifecycle(t *testing.T) {
	h := NewRESTHandler(newMemEngine(t), "node-1")

	rec, info := doREST(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "node-1", info["name"])

	rec, _ = doREST(t, h, http.MethodPut, "/books", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doREST(t, h, http.MethodPut, "/books", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, rest.ErrTypeAlreadyExists, body["error"].(map[string]any)["type"])

	rec, _ = doREST(t, h, http.MethodPut, "/books/_mapping",
		`{"properties":{"title":{"type":"text"},"genre":{"type":"keyword"}},"_meta":{"type":"book"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doREST(t, h, http.MethodPut, "/books/_doc/b1", `{"title":"dune","genre":"scifi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doREST(t, h, http.MethodPut, "/books/_doc/b2", `{"title":"emma","genre":"classic"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doREST(t, h, http.MethodPost, "/_refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doREST(t, h, http.MethodPost, "/books/_search",
		`{"query":{"match":{"title":"dune"}},"aggs":{"genres":{"terms":{"field":"genre"}}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rest.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	res := resp.Result()
	assert.Equal(t, []string{"b1"}, res.IDs())
	assert.JSONEq(t, `{"title":"dune","genre":"scifi"}`, string(res.Hits[0].Source))
	require.Len(t, res.Facets["genres"], 1)
	assert.Equal(t, "scifi", res.Facets["genres"][0].Term)

	rec, body = doREST(t, h, http.MethodDelete, "/books/_doc/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "deleted", body["result"])

	rec, body = doREST(t, h, http.MethodDelete, "/books/_doc/b1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["result"])
}

func TestRESTHandler_SearchErrors(t *testing.T) {
	h := NewRESTHandler(newMemEngine(t), "node-1")

	rec, body := doREST(t, h, http.MethodPost, "/missing/_search", `{"query":{"match_all":{}}}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, rest.ErrTypeIndexNotFound, body["error"].(map[string]any)["type"])

	rec, _ = doREST(t, h, http.MethodPost, "/missing/_search", `{"query":{"fuzzy":{}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRESTHandler_AcceptsGzipBodies(t *testing.T) {
	h := NewRESTHandler(newMemEngine(t), "node-1")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"name":"compressed"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	req := httptest.NewRequest(http.MethodPut, "/things/_doc/t1", &buf)
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doREST(t, h, http.MethodPost, "/things/_search", `{"query":{"ids":{"values":["t1"]}}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp rest.SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Hits.Total.Value)
}
