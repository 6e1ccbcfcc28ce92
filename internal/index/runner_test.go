package index

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchsync/internal/config"
	"github.com/Aman-CERP/searchsync/internal/mapping"
	"github.com/Aman-CERP/searchsync/internal/ui"
)

func TestNewRunner_RequiresDependencies(t *testing.T) {
	c, _, store, _ := newFakeCoordinator(t, nil)

	_, err := NewRunner(RunnerDependencies{Coordinator: c, Store: store})
	assert.Error(t, err)
	_, err = NewRunner(RunnerDependencies{Renderer: ui.NopRenderer{}, Store: store})
	assert.Error(t, err)
	_, err = NewRunner(RunnerDependencies{Renderer: ui.NopRenderer{}, Coordinator: c})
	assert.Error(t, err)
}

func TestRunner_ReindexesEveryEntity(t *testing.T) {
	// Given: three stored articles
	c, fake, store, _ := newFakeCoordinator(t, nil)
	for _, k := range []string{"a1", "a2", "a3"} {
		store.put(article(k, k))
	}
	buf := &bytes.Buffer{}
	r, err := NewRunner(RunnerDependencies{
		Renderer:    ui.NewPlainRenderer(ui.NewConfig(buf)),
		Coordinator: c,
		Store:       store,
	})
	require.NoError(t, err)

	// When: reindexing
	res, err := r.Run(context.Background(), RunnerConfig{Kind: "Article"})

	// Then: every entity is written
	require.NoError(t, err)
	assert.Equal(t, 3, res.Loaded)
	assert.Equal(t, 3, res.Indexed)
	assert.Len(t, fake.CallsTo("IndexDocument"), 3)
	assert.Contains(t, buf.String(), "Complete: Article: 3 loaded, 3 indexed")
}

func TestRunner_CountsFailures(t *testing.T) {
	c, fake, store, _ := newFakeCoordinator(t, nil)
	store.put(article("a1", "x"))
	fake.SetError("IndexDocument", errors.New("rejected"))
	buf := &bytes.Buffer{}
	r, err := NewRunner(RunnerDependencies{Renderer: ui.NewPlainRenderer(ui.NewConfig(buf)), Coordinator: c, Store: store})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), RunnerConfig{Kind: "Article"})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, buf.String(), "WARN: a1:")
}

func TestRunner_QueuedModeWithDrain(t *testing.T) {
	c, fake, store, _ := newFakeCoordinator(t, func(cfg *config.Config) { cfg.Delivery.Mode = config.DeliveryQueued })
	store.put(article("a1", "x"))
	store.put(article("a2", "y"))
	r, err := NewRunner(RunnerDependencies{Renderer: ui.NopRenderer{}, Coordinator: c, Store: store})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), RunnerConfig{Kind: "Article", Drain: true})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Queued)
	assert.Equal(t, 2, res.Drained)
	assert.Len(t, fake.CallsTo("IndexDocument"), 2)
	idx, _ := c.Pending()
	assert.Zero(t, idx)
}

func TestRunner_UnsearchableKindAborts(t *testing.T) {
	c, _, _, _ := newFakeCoordinator(t, nil)
	src := listerFunc(func() []plain { return []plain{{key: "p1"}} })
	r, err := NewRunner(RunnerDependencies{Renderer: ui.NopRenderer{}, Coordinator: c, Store: src})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), RunnerConfig{Kind: "Plain"})
	assert.Error(t, err)
}

// listerFunc adapts a slice of plain models to Lister.
type listerFunc func() []plain

func (f listerFunc) All(context.Context, string) ([]mapping.Model, error) {
	var out []mapping.Model
	for _, p := range f() {
		out = append(out, p)
	}
	return out, nil
}
