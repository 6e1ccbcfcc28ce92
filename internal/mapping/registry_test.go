package mapping

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchsync/internal/backend"
	serrors "github.com/Aman-CERP/searchsync/internal/errors"
)

type article struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (a *article) Kind() string { return "Article" }
func (a *article) Key() string  { return a.ID }

type hidden struct{ article }

func (h *hidden) Searchable() bool { return false }

func articleType() Type {
	return Type{
		Kind:   "Article",
		New:    func() Model { return &article{} },
		Fields: map[string]string{"title": "text"},
	}
}

func newRegistry(t *testing.T, prefix string) *Registry {
	t.Helper()
	r, err := NewRegistry(DefaultStrategy{Prefix: prefix})
	require.NoError(t, err)
	require.NoError(t, r.Register(articleType()))
	return r
}

func TestRegistry_MappingIsCached(t *testing.T) {
	r := newRegistry(t, "app_")

	first := r.Mapping("Article")
	second := r.Mapping("Article")

	assert.Same(t, first, second)
	assert.Equal(t, "app_article", first.IndexName)
	assert.Equal(t, "article", first.TypeName)
}

func TestRegistry_SetStrategyRebuildsMapping(t *testing.T) {
	// Given: a cached mapping
	r := newRegistry(t, "app_")
	before := r.Mapping("Article")

	// When: the strategy is swapped
	require.NoError(t, r.SetStrategy(DefaultStrategy{Prefix: "v2_"}))
	after := r.Mapping("Article")

	// Then: a fresh mapping is built with the new strategy
	assert.NotSame(t, before, after)
	assert.Equal(t, "v2_article", after.IndexName)
}

func TestRegistry_NilStrategyIsConfigError(t *testing.T) {
	_, err := NewRegistry(nil)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeConfigInvalid))

	r := newRegistry(t, "")
	assert.Error(t, r.SetStrategy(nil))
}

func TestRegistry_LookupKindByTypeName(t *testing.T) {
	r := newRegistry(t, "")

	_, ok := r.LookupKind("article")
	assert.False(t, ok, "unknown until the mapping is built")

	r.Mapping("Article")
	kind, ok := r.LookupKind("article")
	require.True(t, ok)
	assert.Equal(t, "Article", kind)

	em, ok := r.MappingForType("article")
	require.True(t, ok)
	assert.Equal(t, "Article", em.Kind)
}

func TestRegistry_UnregisteredKindStillMaps(t *testing.T) {
	r := newRegistry(t, "")

	em := r.Mapping("Comment")

	assert.Equal(t, "comment", em.IndexName)
	assert.False(t, em.CanDecode())
	_, err := r.New("Comment")
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeUnmappedType))
}

func TestRegistry_ConcurrentFirstAccessYieldsOneMapping(t *testing.T) {
	r := newRegistry(t, "")
	const n = 32
	got := make([]*EntityMapping, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Mapping("Article")
		}(i)
	}
	wg.Wait()

	for _, em := range got {
		assert.Same(t, got[0], em)
	}
}

func TestRegistry_ReRegisterDropsCachedMapping(t *testing.T) {
	r := newRegistry(t, "")
	before := r.Mapping("Article")

	t2 := articleType()
	t2.Fields = map[string]string{"title": "keyword"}
	require.NoError(t, r.Register(t2))

	after := r.Mapping("Article")
	assert.NotSame(t, before, after)
	assert.Equal(t, "keyword", after.TypeMapping().Properties["title"].Type)
	assert.Error(t, r.Register(Type{}))
}

func TestEntityMapping_DocumentAndDecode(t *testing.T) {
	r := newRegistry(t, "")
	em := r.Mapping("Article")
	a := &article{ID: "42", Title: "Hello"}

	body, err := em.Document(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","title":"Hello"}`, string(body))
	assert.Equal(t, "42", em.DocumentID(a))

	m, err := em.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, a, m)
}

func TestEntityMapping_TypeMapping(t *testing.T) {
	r := newRegistry(t, "")

	tm := r.Mapping("Article").TypeMapping()

	assert.Equal(t, backend.TypeMapping{Properties: map[string]backend.FieldMapping{"title": {Type: "text"}}}, tm)
	assert.Empty(t, r.Mapping("Other").TypeMapping().Properties)
}

func TestKindClassifier(t *testing.T) {
	c := NewKindClassifier("Article")

	assert.True(t, c.IsSearchable(&article{ID: "1"}))
	assert.False(t, c.IsSearchable(&hidden{}), "opt-out wins over kind list")
	assert.True(t, c.IsSearchable(&Document{DocKind: "Anything"}))
	assert.False(t, c.IsSearchable("just a string"))
	assert.False(t, NewKindClassifier().IsSearchable(&article{}))
}

func TestDocument_JSON(t *testing.T) {
	d := &Document{DocKind: "note", DocKey: "n1", Fields: map[string]any{"body": "hi"}}

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"n1","body":"hi"}`, string(data))

	back := &Document{DocKind: "note"}
	require.NoError(t, json.Unmarshal(data, back))
	assert.Equal(t, d, back)
}

func TestDocumentType(t *testing.T) {
	r, err := NewRegistry(DefaultStrategy{})
	require.NoError(t, err)
	require.NoError(t, r.Register(DocumentType("note", nil)))

	m, err := r.New("note")
	require.NoError(t, err)
	assert.Equal(t, "note", m.Kind())
	assert.Equal(t, []string{"note"}, r.Kinds())
}
