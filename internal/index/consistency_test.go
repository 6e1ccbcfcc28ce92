package index

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInconsistencyType_String(t *testing.T) {
	assert.Equal(t, "orphan", InconsistencyOrphan.String())
	assert.Equal(t, "missing", InconsistencyMissing.String())
	assert.Equal(t, "unknown", InconsistencyType(9).String())
}

func TestConsistencyChecker_CheckAndRepair(t *testing.T) {
	// Given: a1 is stored and indexed, a2 is only stored, ghost is only indexed
	c, fake, store, _ := newFakeCoordinator(t, nil)
	ctx := context.Background()

	a1, a2 := article("a1", "one"), article("a2", "two")
	store.put(a1)
	store.put(a2)
	require.NoError(t, c.IndexModel(ctx, a1))
	require.NoError(t, fake.IndexDocument(ctx, "app_article", "article", "ghost", json.RawMessage(`{"key":"ghost"}`)))

	checker := NewConsistencyChecker(c, store, store)

	// When: checking
	res, err := checker.Check(ctx, "Article")
	require.NoError(t, err)

	// Then: one orphan and one missing entity are reported
	assert.Equal(t, 2, res.Stored)
	assert.Equal(t, 2, res.Indexed)
	assert.ElementsMatch(t, []Inconsistency{
		{Type: InconsistencyOrphan, Kind: "Article", Key: "ghost"},
		{Type: InconsistencyMissing, Kind: "Article", Key: "a2"},
	}, res.Inconsistencies)

	ok, err := checker.QuickCheck(ctx, "Article")
	require.NoError(t, err)
	assert.True(t, ok, "counts match even though the ids differ")

	// When: repairing
	fixed := checker.Repair(ctx, res.Inconsistencies)

	// Then: the index mirrors the store
	assert.Equal(t, 2, fixed)
	_, ghost := fake.Doc("app_article", "ghost")
	assert.False(t, ghost)
	_, found := fake.Doc("app_article", "a2")
	assert.True(t, found)

	res, err = checker.Check(ctx, "Article")
	require.NoError(t, err)
	assert.Empty(t, res.Inconsistencies)
}

func TestConsistencyChecker_PagesThroughLargeIndexes(t *testing.T) {
	c, _, store, _ := newFakeCoordinator(t, nil)
	ctx := context.Background()

	n := checkPageSize + 7
	for i := range n {
		m := article(keyFor(i), "x")
		store.put(m)
		require.NoError(t, c.IndexModel(ctx, m))
	}

	res, err := NewConsistencyChecker(c, store, store).Check(ctx, "Article")
	require.NoError(t, err)
	assert.Equal(t, n, res.Indexed)
	assert.Empty(t, res.Inconsistencies)
}

func TestConsistencyChecker_QuickCheckMismatch(t *testing.T) {
	c, _, store, _ := newFakeCoordinator(t, nil)
	store.put(article("a1", "x"))

	ok, err := NewConsistencyChecker(c, store, store).QuickCheck(context.Background(), "Article")
	require.NoError(t, err)
	assert.False(t, ok)
}

func keyFor(i int) string {
	return "k" + string(rune('a'+i/26/26%26)) + string(rune('a'+i/26%26)) + string(rune('a'+i%26))
}
