// Package backendtest holds the behavioural suite every backend.Client
// implementation must pass.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchsync/internal/backend"
)

var bookMapping = backend.TypeMapping{Properties: map[string]backend.FieldMapping{
	"title": {Type: "text"},
	"genre": {Type: "keyword"},
	"year":  {Type: "long"},
}}

// RunContract runs the suite. newClient returns a started client over a
// fresh, empty backend.
func RunContract(t *testing.T, newClient func(t *testing.T) backend.Client) {
	t.Run("CreateIsIdempotent", func(t *testing.T) {
		c := newClient(t)
		ctx := context.Background()

		require.NoError(t, c.CreateIndex(ctx, "books"))
		require.NoError(t, c.CreateIndex(ctx, "books"))
		require.NoError(t, c.CreateType(ctx, "books", "book", bookMapping))
		require.NoError(t, c.CreateType(ctx, "books", "book", bookMapping))
	})

	t.Run("IndexThenQueryRoundTrips", func(t *testing.T) {
		c := newClient(t)
		ctx := context.Background()
		seed(t, c, 3)

		res, err := c.ExecuteQuery(ctx, "books", backend.SearchRequest{
			TypeName: "book",
			Filter:   backend.Match("title", "volume"),
			From:     -1,
			Size:     -1,
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(3), res.Total)
		assert.ElementsMatch(t, []string{"b1", "b2", "b3"}, res.IDs())

		var src map[string]any
		require.NoError(t, json.Unmarshal(res.Hits[0].Source, &src))
		assert.Contains(t, src, "title")
	})

	t.Run("DeleteThenQueryFindsNothing", func(t *testing.T) {
		c := newClient(t)
		ctx := context.Background()
		seed(t, c, 1)

		require.NoError(t, c.DeleteDocument(ctx, "books", "book", "b1"))
		require.NoError(t, c.DeleteDocument(ctx, "books", "book", "b1"))
		require.NoError(t, c.DeleteDocument(ctx, "nowhere", "book", "b1"))
		require.NoError(t, c.RefreshAll(ctx))

		res, err := c.ExecuteQuery(ctx, "books", backend.SearchRequest{Filter: backend.IDs("b1"), From: -1, Size: -1})
		require.NoError(t, err)
		assert.Zero(t, res.Total)
		assert.Empty(t, res.Hits)
	})

	t.Run("PagingSortingFacets", func(t *testing.T) {
		c := newClient(t)
		ctx := context.Background()
		seed(t, c, 5)

		res, err := c.ExecuteQuery(ctx, "books", backend.SearchRequest{
			Filter: backend.MatchAll(),
			From:   0,
			Size:   2,
			Sorts:  []backend.Sort{{Field: "year", Desc: true}},
			Facets: []backend.Facet{{Name: "genres", Field: "genre"}},
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(5), res.Total)
		assert.Equal(t, []string{"b5", "b4"}, res.IDs())
		assert.Len(t, res.Facets["genres"], 2)
	})

	t.Run("IDsOnlyOmitsSources", func(t *testing.T) {
		c := newClient(t)
		seed(t, c, 2)

		res, err := c.ExecuteQuery(context.Background(), "books", backend.SearchRequest{
			Filter: backend.MatchAll(), From: -1, Size: -1, IDsOnly: true,
		})
		require.NoError(t, err)
		require.Len(t, res.Hits, 2)
		for _, h := range res.Hits {
			assert.Empty(t, h.Source)
		}
	})

	t.Run("SharedIndexKeepsTypesApart", func(t *testing.T) {
		c := newClient(t)
		ctx := context.Background()
		require.NoError(t, c.CreateIndex(ctx, "shared"))
		require.NoError(t, c.CreateType(ctx, "shared", "note", bookMapping))
		require.NoError(t, c.CreateType(ctx, "shared", "task", bookMapping))
		require.NoError(t, c.IndexDocument(ctx, "shared", "note", "n1", json.RawMessage(`{"title":"weekly plan"}`)))
		require.NoError(t, c.IndexDocument(ctx, "shared", "task", "t1", json.RawMessage(`{"title":"weekly plan"}`)))
		require.NoError(t, c.RefreshAll(ctx))

		for typeName, want := range map[string][]string{"note": {"n1"}, "task": {"t1"}, "": {"n1", "t1"}} {
			res, err := c.ExecuteQuery(ctx, "shared", backend.SearchRequest{
				TypeName: typeName,
				Filter:   backend.Match("title", "weekly"),
				From:     -1,
				Size:     -1,
			})
			require.NoError(t, err)
			assert.ElementsMatch(t, want, res.IDs(), "type %q", typeName)
		}

		require.NoError(t, c.DeleteDocument(ctx, "shared", "task", "t1"))
		require.NoError(t, c.RefreshAll(ctx))
		res, err := c.ExecuteQuery(ctx, "shared", backend.SearchRequest{TypeName: "task", Filter: backend.MatchAll(), From: -1, Size: -1})
		require.NoError(t, err)
		assert.Empty(t, res.IDs())
	})

	t.Run("QueryOnMissingIndexIsEmpty", func(t *testing.T) {
		c := newClient(t)

		res, err := c.ExecuteQuery(context.Background(), "never_created", backend.SearchRequest{
			Filter: backend.MatchAll(), From: -1, Size: -1,
		})
		require.NoError(t, err)
		assert.Zero(t, res.Total)
	})
}

func seed(t *testing.T, c backend.Client, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.CreateIndex(ctx, "books"))
	require.NoError(t, c.CreateType(ctx, "books", "book", bookMapping))
	for i := 1; i <= n; i++ {
		genre := "scifi"
		if i%2 == 0 {
			genre = "classic"
		}
		body := fmt.Sprintf(`{"title":"volume %d","genre":%q,"year":%d}`, i, genre, 1990+i)
		require.NoError(t, c.IndexDocument(ctx, "books", "book", fmt.Sprintf("b%d", i), json.RawMessage(body)))
	}
	require.NoError(t, c.RefreshAll(ctx))
}
