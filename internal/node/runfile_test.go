package node

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFile(t *testing.T) {
	rf := NewRunFile(filepath.Join(t.TempDir(), "data", "node.json"))

	_, err := rf.Read()
	assert.ErrorIs(t, err, ErrNoRunFile)
	_, running := rf.Running()
	assert.False(t, running)

	want := RunInfo{PID: os.Getpid(), NodeID: "n1", Listen: "127.0.0.1:9300", Started: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, rf.Write(want))

	got, running := rf.Running()
	assert.True(t, running)
	assert.Equal(t, want, got)

	require.NoError(t, rf.Remove())
	require.NoError(t, rf.Remove())
}

func TestRunFile_DeadProcess(t *testing.T) {
	rf := NewRunFile(filepath.Join(t.TempDir(), "node.json"))
	require.NoError(t, rf.Write(RunInfo{PID: 0, NodeID: "gone"}))

	info, running := rf.Running()
	assert.False(t, running)
	assert.Equal(t, "gone", info.NodeID)
}

func TestRun_ReportsOwnerOfLockedDataDir(t *testing.T) {
	dir := t.TempDir()
	held, err := NewEngine(Options{DataDir: dir})
	require.NoError(t, err)
	defer func() { _ = held.Close() }()
	require.NoError(t, NewRunFile(filepath.Join(dir, runFileName)).Write(RunInfo{PID: os.Getpid(), NodeID: "owner", Listen: "127.0.0.1:9300"}))

	err = Run(t.Context(), Config{Listen: "127.0.0.1:0", Engine: Options{DataDir: dir}, RunFile: filepath.Join(dir, runFileName)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
	assert.Contains(t, err.Error(), "127.0.0.1:9300")
}
