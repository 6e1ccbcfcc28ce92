package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrNoRunFile is returned when no node has recorded itself in a data dir.
var ErrNoRunFile = errors.New("node run file not found")

// RunInfo is what a running node records next to its data.
type RunInfo struct {
	PID        int       `json:"pid"`
	NodeID     string    `json:"node_id"`
	Listen     string    `json:"listen"`
	HTTPListen string    `json:"http_listen,omitempty"`
	Started    time.Time `json:"started"`
}

// RunFile is the JSON record of the node owning a data dir. The data-dir
// lock decides ownership; the file only tells others who holds it.
type RunFile struct {
	path string
}

// NewRunFile returns the run file at path.
func NewRunFile(path string) *RunFile {
	return &RunFile{path: path}
}

// Write records info, replacing any previous record.
func (f *RunFile) Write(info RunInfo) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create run file directory: %w", err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Read returns the recorded node.
func (f *RunFile) Read() (RunInfo, error) {
	var info RunInfo
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return info, ErrNoRunFile
	}
	if err != nil {
		return info, fmt.Errorf("failed to read run file: %w", err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("invalid run file %s: %w", f.path, err)
	}
	return info, nil
}

// Remove deletes the record. A missing file is not an error.
func (f *RunFile) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove run file: %w", err)
	}
	return nil
}

// Running returns the recorded node if its process is still alive.
func (f *RunFile) Running() (RunInfo, bool) {
	info, err := f.Read()
	if err != nil || info.PID <= 0 {
		return info, false
	}
	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return info, false
	}
	// Signal 0 probes for existence.
	return info, proc.Signal(syscall.Signal(0)) == nil
}
