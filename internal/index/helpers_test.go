package index

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchsync/internal/backend/backendtest"
	"github.com/Aman-CERP/searchsync/internal/config"
	"github.com/Aman-CERP/searchsync/internal/mapping"
)

// memStore is an in-memory primary store.
type memStore struct {
	mu     sync.Mutex
	models map[string]map[string]mapping.Model
	loads  int
}

func newMemStore() *memStore {
	return &memStore{models: make(map[string]map[string]mapping.Model)}
}

func (s *memStore) put(m mapping.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.models[m.Kind()] == nil {
		s.models[m.Kind()] = make(map[string]mapping.Model)
	}
	s.models[m.Kind()][m.Key()] = m
}

func (s *memStore) remove(m mapping.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models[m.Kind()], m.Key())
}

func (s *memStore) LoadByIDs(_ context.Context, kind string, ids []string) ([]mapping.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	var out []mapping.Model
	for _, id := range ids {
		if m, ok := s.models[kind][id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) Keys(_ context.Context, kind string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.models[kind] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *memStore) All(ctx context.Context, kind string) ([]mapping.Model, error) {
	keys, _ := s.Keys(ctx, kind)
	return s.LoadByIDs(ctx, kind, keys)
}

func article(key, title string) *mapping.Document {
	return &mapping.Document{DocKind: "Article", DocKey: key, Fields: map[string]any{"title": title}}
}

// newFakeCoordinator returns a started coordinator over a recording fake.
func newFakeCoordinator(t *testing.T, mutate func(*config.Config)) (*Coordinator, *backendtest.Fake, *memStore, *config.StaticSource) {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Index.Prefix = "app_"
	cfg.Index.Searchable = []string{"Article"}
	if mutate != nil {
		mutate(cfg)
	}
	source := config.NewStaticSource(cfg)
	fake := backendtest.NewFake()
	store := newMemStore()

	c, err := NewCoordinator(CoordinatorConfig{Source: source, Client: fake, Hydrator: store})
	require.NoError(t, err)
	require.NoError(t, c.Registry().Register(mapping.DocumentType("Article", map[string]string{"title": "text"})))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c, fake, store, source
}
