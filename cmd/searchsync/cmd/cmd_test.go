package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchsync/internal/backend"
	"github.com/Aman-CERP/searchsync/internal/store"
	"github.com/Aman-CERP/searchsync/internal/ui"
	"github.com/Aman-CERP/searchsync/pkg/version"
)

// testEnv isolates HOME and writes a config using the embedded backend
// with everything persisted under a temp directory.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))

	cfg := fmt.Sprintf(`backend:
  kind: native
  local: true
  data_dir: %s
index:
  prefix: test_
store:
  path: %s
`, filepath.Join(dir, "index"), filepath.Join(dir, "store.db"))
	path := filepath.Join(dir, "searchsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func searchJSON(t *testing.T, configPath string, args ...string) ui.ResultsInfo {
	t.Helper()
	out, err := run(t, configPath, append(append([]string{"search"}, args...), "--json")...)
	require.NoError(t, err, out)
	var info ui.ResultsInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info), out)
	return info
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	// When: executing with --help
	err := cmd.Execute()

	// Then: every subcommand is listed
	require.NoError(t, err)
	for _, sub := range []string{"node", "search", "put", "remove", "reindex", "check", "status", "logs", "config", "serve", "version"} {
		assert.Contains(t, buf.String(), sub)
	}
}

func TestVersionCmd_Output(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "searchsync")
	assert.Contains(t, out, version.Version)

	out, err = run(t, "", "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(out))

	out, err = run(t, "", "version", "--json")
	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestPutThenSearch_AcrossInvocations(t *testing.T) {
	// Given: two stored articles
	cfg := testEnv(t)
	out, err := run(t, cfg, "put", "article", "a1", `{"title": "The quick brown fox", "status": "published"}`)
	require.NoError(t, err, out)
	assert.Contains(t, out, "store.objectPersisted: delivered (local)")

	out, err = run(t, cfg, "put", "article", "a2", `{"title": "A lazy dog", "status": "draft"}`)
	require.NoError(t, err, out)

	// When: searching in a new invocation
	info := searchJSON(t, cfg, "article", "fox")

	// Then: the hit is hydrated from the store
	require.Equal(t, 1, info.Count, info)
	assert.Equal(t, "a1", info.Hits[0].Key)
	assert.Equal(t, "The quick brown fox", info.Hits[0].Fields["title"])

	all := searchJSON(t, cfg, "article")
	assert.Equal(t, 2, all.Count)
	assert.EqualValues(t, 2, all.Total)
}

func TestPut_UpdateIsRoutedAsUpdate(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "put", "article", "a1", `{"title": "first"}`)
	require.NoError(t, err)

	out, err := run(t, cfg, "put", "article", "a1", `{"title": "second"}`)
	require.NoError(t, err, out)
	assert.Contains(t, out, "store.objectUpdated: delivered (local)")

	info := searchJSON(t, cfg, "article", "second")
	require.Equal(t, 1, info.Count)
	assert.Empty(t, searchJSON(t, cfg, "article", "first").Hits)
}

func TestPut_BlockWithoutDrainLeavesIndexUntouched(t *testing.T) {
	cfg := testEnv(t)

	out, err := run(t, cfg, "put", "article", "a1", `{"title": "held back"}`, "--block")
	require.NoError(t, err, out)
	assert.Contains(t, out, "queued (blocked)")
	assert.Contains(t, out, "dropped on exit")

	assert.Zero(t, searchJSON(t, cfg, "article").Total)
}

func TestPut_BlockWithDrain(t *testing.T) {
	cfg := testEnv(t)

	out, err := run(t, cfg, "put", "article", "a1", `{"title": "held back"}`, "--block", "--drain")
	require.NoError(t, err, out)
	assert.Contains(t, out, "queued (blocked)")
	assert.Contains(t, out, "Drained: 1 indexed, 0 deleted")

	assert.Equal(t, 1, searchJSON(t, cfg, "article", "held").Count)
}

func TestPut_RejectsNonObjectBody(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "put", "article", "a1", `[1, 2]`)
	assert.ErrorContains(t, err, "JSON object")
}

func TestRemove(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "put", "article", "a1", `{"title": "short lived"}`)
	require.NoError(t, err)

	out, err := run(t, cfg, "remove", "article", "a1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "store.objectDeleted: delivered (local)")
	assert.Zero(t, searchJSON(t, cfg, "article").Total)

	_, err = run(t, cfg, "remove", "article", "a1")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSearch_InvalidQueryObject(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "search", "article", `{"bogus": {}}`)
	assert.ErrorContains(t, err, "invalid query object")
}

func TestSearch_PlainOutputAndFacets(t *testing.T) {
	cfg := testEnv(t)
	for i, status := range []string{"draft", "draft", "published"} {
		_, err := run(t, cfg, "put", "article", fmt.Sprintf("a%d", i), fmt.Sprintf(`{"title": "post %d", "status": %q}`, i, status))
		require.NoError(t, err)
	}

	info := searchJSON(t, cfg, "article", "*", "--facet", "status", "--size", "0")
	assert.Zero(t, info.Count)
	assert.EqualValues(t, 3, info.Total)
	require.Contains(t, info.Facets, "status")
	assert.Equal(t, ui.FacetCount{Term: "draft", Count: 2}, info.Facets["status"][0])

	out, err := run(t, cfg, "search", "article", "post", "--sort", "-key", "--size", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "a2")
}

func TestSearch_Mapper(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "put", "article", "a1", `{"title": "decoded from the index"}`)
	require.NoError(t, err)

	info := searchJSON(t, cfg, "article", "decoded", "--mapper")
	require.Equal(t, 1, info.Count)
	assert.Equal(t, "a1", info.Hits[0].Key)
	assert.Equal(t, "decoded from the index", info.Hits[0].Fields["title"])
}

func TestReindexAndCheck(t *testing.T) {
	// Given: an article stored while delivery was blocked, so the index
	// misses it
	cfg := testEnv(t)
	_, err := run(t, cfg, "put", "article", "a1", `{"title": "indexed"}`)
	require.NoError(t, err)
	_, err = run(t, cfg, "put", "article", "a2", `{"title": "missed"}`, "--block")
	require.NoError(t, err)

	// When: checking
	out, err := run(t, cfg, "check", "article")
	require.NoError(t, err, out)

	// Then: the drift is reported
	assert.Contains(t, out, "2 stored, 1 indexed, 1 inconsistencies")
	assert.Contains(t, out, "missing")

	out, err = run(t, cfg, "check", "article", "--quick")
	require.NoError(t, err)
	assert.Contains(t, out, "counts differ")

	// When: reindexing
	out, err = run(t, cfg, "reindex", "article", "--plain")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Complete: article: 2 loaded, 2 indexed")

	// Then: both sides agree
	out, err = run(t, cfg, "check", "article")
	require.NoError(t, err, out)
	assert.Contains(t, out, "2 stored, 2 indexed, 0 inconsistencies")
}

func TestCheck_Repair(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "put", "article", "a1", `{"title": "missed"}`, "--block")
	require.NoError(t, err)

	out, err := run(t, cfg, "check", "article", "--repair")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Repaired 1 of 1")
	assert.Equal(t, 1, searchJSON(t, cfg, "article", "missed").Count)
}

func TestStatus_JSON(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "put", "article", "a1", `{"title": "counted"}`)
	require.NoError(t, err)

	out, err := run(t, cfg, "status", "--json")
	require.NoError(t, err, out)

	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info), out)
	assert.Equal(t, "native-local", info.Backend)
	assert.True(t, info.Reachable)
	assert.Equal(t, "local", info.DeliveryMode)
	assert.Contains(t, info.Kinds, "article")
}

func TestStatus_ReportsRecordedQueries(t *testing.T) {
	cfg := testEnv(t)
	_, err := run(t, cfg, "put", "article", "a1", `{"title": "golang tips"}`)
	require.NoError(t, err)
	assert.Equal(t, 1, searchJSON(t, cfg, "article", "golang").Count)
	assert.Equal(t, 0, searchJSON(t, cfg, "article", "haskell").Count)

	out, err := run(t, cfg, "status", "--json")
	require.NoError(t, err, out)

	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info), out)
	require.NotNil(t, info.Queries)
	require.Len(t, info.Queries.Kinds, 1)
	assert.Equal(t, ui.KindQueryStats{Kind: "article", Queries: 2, ZeroResults: 1}, info.Queries.Kinds[0])
	assert.Contains(t, info.Queries.TopTerms, ui.TermStat{Term: "golang", Count: 1})
	assert.Equal(t, []string{"article: haskell"}, info.Queries.ZeroResults)
}

func TestStatus_UnreachableBackend(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "searchsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`backend:
  kind: native
  hosts: ["127.0.0.1:1"]
  timeout: 200ms
store:
  path: %s
`, filepath.Join(dir, "store.db"))), 0o644))

	out, err := run(t, path, "status", "--json")
	require.NoError(t, err, out)

	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info), out)
	assert.Equal(t, "native-remote", info.Backend)
	assert.False(t, info.Reachable)
}

func TestConfigErrorsSurface(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := run(t, filepath.Join(t.TempDir(), "missing.yaml"), "status")
	assert.Error(t, err)
}

func TestLoadConfig_WarnsWhenLogFileUnusable(t *testing.T) {
	path := testEnv(t)
	blocker := filepath.Join(filepath.Dir(path), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "logging:\n  level: info\n  file: %s\n", filepath.Join(blocker, "searchsync.log"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := run(t, path, "config", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "Warning: not logging to "+filepath.Join(blocker, "searchsync.log"))
}

func TestParseQuery(t *testing.T) {
	f, err := parseQuery("")
	require.NoError(t, err)
	assert.True(t, f.MatchAll)

	f, err = parseQuery(" * ")
	require.NoError(t, err)
	assert.True(t, f.MatchAll)

	f, err = parseQuery(`{"term": {"status": "draft"}}`)
	require.NoError(t, err)
	assert.Equal(t, backend.Term("status", "draft"), f)

	f, err = parseQuery("title:fox")
	require.NoError(t, err)
	assert.Equal(t, backend.QueryString("title:fox"), f)
}
