package ui

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_Names(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageLoading, "Loading", "LOAD"},
		{StageIndexing, "Indexing", "INDEX"},
		{StageDraining, "Draining", "DRAIN"},
		{StageComplete, "Complete", "DONE"},
		{Stage(42), "Unknown", "???"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.String())
			assert.Equal(t, tt.icon, tt.stage.Icon())
		})
	}
}

func TestNewRenderer_PlainForNonTTY(t *testing.T) {
	buf := &bytes.Buffer{}

	assert.IsType(t, &PlainRenderer{}, NewRenderer(NewConfig(buf)))
	assert.IsType(t, &PlainRenderer{}, NewRenderer(NewConfig(buf, WithForcePlain(true))))
	assert.False(t, IsTTY(buf))
	assert.False(t, IsTTY(nil))
}

func TestDetectCI(t *testing.T) {
	t.Setenv("CI", "true")
	assert.True(t, DetectCI())
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())
}

func TestPlainRenderer_Output(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: running through a reindex of 20 entities
	r.UpdateProgress(ProgressEvent{Stage: StageLoading, Kind: "Article", Message: "loading Article"})
	for i := 1; i <= 20; i++ {
		r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Kind: "Article", Current: i, Total: 20})
	}
	r.AddError(ErrorEvent{Key: "a7", Err: errors.New("rejected"), IsWarn: true})
	r.AddError(ErrorEvent{Err: errors.New("drain stopped")})
	r.Complete(CompletionStats{Kind: "Article", Loaded: 20, Indexed: 19, Failed: 1, Drained: 2, Duration: 1500 * time.Millisecond})

	// Then: progress is throttled and no ANSI codes are written
	out := buf.String()
	assert.Contains(t, out, "[LOAD] loading Article")
	assert.Contains(t, out, "[INDEX] Article 2/20")
	assert.Contains(t, out, "[INDEX] Article 20/20")
	assert.NotContains(t, out, "[INDEX] Article 3/20")
	assert.Contains(t, out, "WARN: a7: rejected")
	assert.Contains(t, out, "ERROR: drain stopped")
	assert.Contains(t, out, "Complete: Article: 20 loaded, 19 indexed, 0 queued, 1 failed, 2 drained in 1.5s")
	assert.NotContains(t, out, "\x1b[")
}

func TestStyledRenderer_DrawsBarAndSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStyledRenderer(NewConfig(buf, WithNoColor(true)))

	r.UpdateProgress(ProgressEvent{Stage: StageIndexing, Kind: "Article", Current: 5, Total: 10})
	assert.Contains(t, buf.String(), "50%")
	assert.Contains(t, buf.String(), "5/10")

	r.AddError(ErrorEvent{Key: "a1", Err: errors.New("boom")})
	assert.Contains(t, buf.String(), "✗ a1: boom")

	r.Complete(CompletionStats{Kind: "Article", Loaded: 10, Indexed: 9, Failed: 1, Duration: 2 * time.Second})
	require.NoError(t, r.Stop())
	out := buf.String()
	assert.Contains(t, out, "Reindexed Article")
	assert.Contains(t, out, "Failed")
	assert.Contains(t, out, "2s")
}

func TestProgressTracker_Stats(t *testing.T) {
	p := NewProgressTracker()
	assert.Equal(t, StageLoading, p.Stats().Stage)

	p.Apply(ProgressEvent{Stage: StageIndexing, Kind: "Article", Current: 3, Total: 4, Key: "a3"})
	p.AddError(ErrorEvent{IsWarn: true})
	p.AddError(ErrorEvent{})

	st := p.Stats()
	assert.Equal(t, StageIndexing, st.Stage)
	assert.InDelta(t, 0.75, st.Progress, 0.001)
	assert.Equal(t, "a3", st.Key)
	assert.Equal(t, 1, st.Warnings)
	assert.Equal(t, 1, st.Errors)

	p.Apply(ProgressEvent{Stage: StageIndexing, Current: 8, Total: 4})
	assert.Equal(t, 1.0, p.Stats().Progress, "progress is capped")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m", formatDuration(3*time.Minute))
	assert.Equal(t, "3m 5s", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h 1m", formatDuration(2*time.Hour+time.Minute))
}

func TestStatusRenderer_Render(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	err := r.Render(StatusInfo{
		Backend:       "native-remote",
		Endpoints:     []string{"10.0.0.1:9300"},
		Reachable:     true,
		DeliveryMode:  "custom",
		CustomHandler: "nats",
		Blocked:       true,
		Kinds:         []string{"Article", "User"},
		Started:       []string{"Article"},
		PendingIndex:  3,
		Indexes:       []IndexInfo{{Name: "app_article", Documents: 12}},
		Native:        map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "native-remote")
	assert.Contains(t, out, "10.0.0.1:9300")
	assert.Contains(t, out, "custom (nats)")
	assert.Contains(t, out, "Blocked:   on")
	assert.Contains(t, out, "3 index, 0 delete")
	assert.Regexp(t, `Article\s+provisioned`, out)
	assert.Regexp(t, `User\s+not provisioned`, out)
	assert.Contains(t, out, "12 docs")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("a = 1")), bytes.Index(buf.Bytes(), []byte("b = 2")))
}

func TestStatusRenderer_RenderQueries(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.Render(StatusInfo{Backend: "rest", Queries: &QueryStats{Days: 7}}))
	assert.Contains(t, buf.String(), "Queries (last 7 days):")
	assert.Contains(t, buf.String(), "none recorded")

	buf.Reset()
	require.NoError(t, r.Render(StatusInfo{Backend: "rest", Queries: &QueryStats{
		Days:        7,
		Kinds:       []KindQueryStats{{Kind: "Article", Queries: 4, ZeroResults: 1, HydrationGaps: 2}},
		TopTerms:    []TermStat{{Term: "golang", Count: 3}, {Term: "tips", Count: 1}},
		ZeroResults: []string{"Article: nothing"},
		Latency:     []TermStat{{Term: "p10", Count: 4}},
	}}))
	out := buf.String()
	assert.Regexp(t, `Article\s+4 queries, 1 zero-result, 0 failed, 2 with stale hits`, out)
	assert.Contains(t, out, "golang (3), tips (1)")
	assert.Contains(t, out, "p10=4")
	assert.Contains(t, out, "No results:  Article: nothing")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, NewStatusRenderer(buf, true).RenderJSON(StatusInfo{Backend: "rest", PendingDelete: 2}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "rest", got["backend"])
	assert.Equal(t, float64(2), got["pending_delete"])
}

func TestResultsRenderer_Render(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewResultsRenderer(buf, true)

	err := r.Render(ResultsInfo{
		Kind:  "Article",
		Count: 1,
		Total: 3,
		Hits:  []Hit{{Key: "a1", Fields: map[string]any{"title": "hello\nworld", "year": 2024}}},
		Facets: map[string][]FacetCount{
			"genres": {{Term: "scifi", Count: 2}},
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "1 Article result(s) of 3 matches")
	assert.Contains(t, out, "a1")
	assert.Contains(t, out, "title: hello world")
	assert.Contains(t, out, "year: 2024")
	assert.Contains(t, out, "facet genres")
	assert.Regexp(t, `scifi\s+2`, out)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
