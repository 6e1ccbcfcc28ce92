package logging

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-01-02T10:00:00.000Z","level":"INFO","msg":"coordinator_started","backend":"native-local"}
{"time":"2026-01-02T10:00:01.000Z","level":"DEBUG","msg":"index_provisioned","kind":"article"}
not json at all
{"time":"2026-01-02T10:00:02.000Z","level":"WARN","msg":"drain_stopped","error_code":"ERR_302_INDEX_FAILED","remaining":3}
{"time":"2026-01-02T10:00:03.000Z","level":"ERROR","msg":"backend_start_failed","error":"dial tcp"}
`

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "searchsync.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestViewer_TailLastLines(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{NoColor: true}, nil)

	entries, err := v.Tail(path, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "drain_stopped", entries[0].Msg)
	assert.Equal(t, "backend_start_failed", entries[1].Msg)

	all, err := v.Tail(path, 100)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestViewer_LevelFilterKeepsRawLines(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{Level: "warn", NoColor: true}, nil)

	entries, err := v.Tail(path, 100)
	require.NoError(t, err)

	var msgs []string
	for _, e := range entries {
		if e.Valid {
			msgs = append(msgs, e.Msg)
		} else {
			msgs = append(msgs, e.Raw)
		}
	}
	assert.Equal(t, []string{"not json at all", "drain_stopped", "backend_start_failed"}, msgs)
}

func TestViewer_PatternFilter(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{Pattern: regexp.MustCompile(`article`), NoColor: true}, nil)

	entries, err := v.Tail(path, 100)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index_provisioned", entries[0].Msg)
}

func TestViewer_Format(t *testing.T) {
	v := NewViewer(ViewerConfig{NoColor: true}, nil)
	e := ParseEntry(`{"time":"2026-01-02T10:00:02.5Z","level":"WARN","msg":"drain_stopped","remaining":3,"error_code":"ERR_302_INDEX_FAILED"}`)

	assert.Equal(t, "10:00:02.500 WARN  drain_stopped error_code=ERR_302_INDEX_FAILED remaining=3", v.Format(e))
	assert.Equal(t, "plain", v.Format(ParseEntry("plain")))
}

func TestViewer_Print(t *testing.T) {
	var sb strings.Builder
	v := NewViewer(ViewerConfig{NoColor: true}, &sb)
	v.Print([]Entry{ParseEntry("one"), ParseEntry("two")})
	assert.Equal(t, "one\ntwo\n", sb.String())
}

func TestViewer_TailMissingFile(t *testing.T) {
	v := NewViewer(ViewerConfig{}, nil)
	_, err := v.Tail(filepath.Join(t.TempDir(), "absent.log"), 10)
	assert.Error(t, err)
}

func TestViewer_FollowSeesAppendedLines(t *testing.T) {
	path := writeLog(t, sampleLog)
	v := NewViewer(ViewerConfig{Level: "info"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := make(chan Entry, 10)
	done := make(chan error, 1)
	go func() { done <- v.Follow(ctx, path, entries) }()

	// Give Follow time to seek to the end before appending.
	time.Sleep(2 * followInterval)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"time":"2026-01-02T10:00:04Z","level":"DEBUG","msg":"hidden"}` + "\n" +
		`{"time":"2026-01-02T10:00:05Z","level":"INFO","msg":"appended"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case e := <-entries:
		assert.Equal(t, "appended", e.Msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no entry followed")
	}

	cancel()
	assert.NoError(t, <-done)
}
