package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestFilter_DSLRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		dsl    string
	}{
		{"match_all", MatchAll(), `{"match_all":{}}`},
		{"match", Match("title", "hello world"), `{"match":{"title":"hello world"}}`},
		{"match any field", Match("", "hello"), `{"multi_match":{"query":"hello","fields":["*"]}}`},
		{"term", Term("status", "published"), `{"term":{"status":"published"}}`},
		{"ids", IDs("1", "2"), `{"ids":{"values":["1","2"]}}`},
		{"query_string", QueryString("title:go"), `{"query_string":{"query":"title:go"}}`},
		{"range", NumericRange("views", f64(10), nil), `{"range":{"views":{"gte":10}}}`},
		{
			"bool",
			And(Term("status", "published"), Not(IDs("3"))),
			`{"bool":{"must":[{"term":{"status":"published"}},{"bool":{"must_not":[{"ids":{"values":["3"]}}]}}]}}`,
		},
		{
			"or",
			Or(Match("title", "a"), Match("title", "b")),
			`{"bool":{"should":[{"match":{"title":"a"}},{"match":{"title":"b"}}],"minimum_should_match":1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.filter.Validate())

			data, err := json.Marshal(tt.filter.DSL())
			require.NoError(t, err)
			assert.JSONEq(t, tt.dsl, string(data))

			parsed, err := ParseDSL(data)
			require.NoError(t, err)
			assert.Equal(t, tt.filter, parsed)
		})
	}
}

func TestParseDSL_Variants(t *testing.T) {
	tests := []struct {
		name string
		dsl  string
		want Filter
	}{
		{"empty body", ``, MatchAll()},
		{"match with query object", `{"match":{"title":{"query":"go"}}}`, Match("title", "go")},
		{"numeric term", `{"term":{"views":{"value":42}}}`, Term("views", "42")},
		{"bool single clause", `{"bool":{"filter":{"term":{"a":"b"}}}}`, Filter{Bool: &Bool{Must: []Filter{Term("a", "b")}}}},
		{"empty ids", `{"ids":{"values":[]}}`, IDs()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDSL(json.RawMessage(tt.dsl))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDSL_Rejects(t *testing.T) {
	for _, dsl := range []string{
		`[]`,
		`{"match_all":{},"term":{"a":"b"}}`,
		`{"fuzzy":{"a":"b"}}`,
		`{"term":{"a":"b","c":"d"}}`,
		`{"bool":{"nope":[]}}`,
		`{"term":{"a":{"value":[1]}}}`,
	} {
		_, err := ParseDSL(json.RawMessage(dsl))
		assert.Error(t, err, dsl)
	}
}

func TestFilter_Validate(t *testing.T) {
	assert.Error(t, Filter{}.Validate())
	assert.Error(t, Filter{MatchAll: true, QueryString: "x"}.Validate())
	assert.Error(t, Term("", "x").Validate())
	assert.Error(t, Filter{Bool: &Bool{}}.Validate())
	assert.Error(t, And(Filter{}).Validate())
	assert.NoError(t, IDs().Validate())
}

func TestSearchRequest_Page(t *testing.T) {
	from, size := SearchRequest{From: -1, Size: -1}.Page()
	assert.Equal(t, 0, from)
	assert.Equal(t, DefaultSize, size)

	from, size = SearchRequest{From: 20, Size: 5}.Page()
	assert.Equal(t, 20, from)
	assert.Equal(t, 5, size)
}

func TestRawResult_IDs(t *testing.T) {
	r := &RawResult{Hits: []Hit{{ID: "b"}, {ID: "a"}}}
	assert.Equal(t, []string{"b", "a"}, r.IDs())
}
