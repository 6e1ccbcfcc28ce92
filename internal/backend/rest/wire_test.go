package rest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchsync/internal/backend"
)

func TestSearchBody_RoundTripsThroughParse(t *testing.T) {
	req := backend.SearchRequest{
		Filter:  backend.And(backend.Match("title", "dune"), backend.Term("genre", "scifi")),
		From:    5,
		Size:    20,
		Sorts:   []backend.Sort{{Field: "year", Desc: true}, {Field: "title"}},
		Facets:  []backend.Facet{{Name: "genres", Field: "genre", Size: 3}},
		IDsOnly: true,
	}

	data, err := json.Marshal(NewSearchBody(req))
	require.NoError(t, err)

	parsed, err := ParseSearchBody(data)
	require.NoError(t, err)
	assert.Equal(t, req, parsed)
}

func TestSearchBody_CarriesTypeName(t *testing.T) {
	req := backend.SearchRequest{TypeName: "note", Filter: backend.Match("title", "dune"), From: -1, Size: -1}

	data, err := json.Marshal(NewSearchBody(req))
	require.NoError(t, err)
	assert.Contains(t, string(data), `{"term":{"_type":"note"}}`)

	parsed, err := ParseSearchBody(data)
	require.NoError(t, err)
	assert.Equal(t, req, parsed)
}

func TestSearchBody_DefaultsStayNegative(t *testing.T) {
	data, err := json.Marshal(NewSearchBody(backend.SearchRequest{Filter: backend.MatchAll(), From: -1, Size: -1}))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"from"`)
	assert.NotContains(t, string(data), `"size"`)

	parsed, err := ParseSearchBody(data)
	require.NoError(t, err)
	assert.Equal(t, -1, parsed.From)
	assert.Equal(t, -1, parsed.Size)

	empty, err := ParseSearchBody(nil)
	require.NoError(t, err)
	assert.True(t, empty.Filter.MatchAll)
}

func TestParseSearchBody_SortForms(t *testing.T) {
	parsed, err := ParseSearchBody([]byte(`{"sort":["title",{"year":"desc"},{"rank":{"order":"asc"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, []backend.Sort{{Field: "title"}, {Field: "year", Desc: true}, {Field: "rank"}}, parsed.Sorts)

	_, err = ParseSearchBody([]byte(`{"sort":[{"a":"asc","b":"desc"}]}`))
	assert.Error(t, err)
}

func TestSearchResponse_Result(t *testing.T) {
	raw := &backend.RawResult{
		Total:  2,
		Hits:   []backend.Hit{{ID: "a", Score: 1.5, Source: json.RawMessage(`{"x":1}`)}, {ID: "b"}},
		Facets: map[string][]backend.FacetTerm{"f": {{Term: "t", Count: 2}}},
	}
	data, err := json.Marshal(NewSearchResponse("idx", raw, 3))
	require.NoError(t, err)

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	got := resp.Result()
	assert.Equal(t, raw.Total, got.Total)
	assert.Equal(t, []string{"a", "b"}, got.IDs())
	assert.JSONEq(t, `{"x":1}`, string(got.Hits[0].Source))
	assert.Equal(t, raw.Facets, got.Facets)
}
