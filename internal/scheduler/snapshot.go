package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshot file names under the scheduler data directory.
const (
	snapLastCheck         = "last_check.json"
	snapCheckSummary      = "check_summary.json"
	snapProcessingSummary = "processing_summary.json"
)

// Snapshotter mirrors scheduler state to JSON files so operators can
// inspect the last health check and run outcome without a database client.
type Snapshotter struct {
	dir string
}

// NewSnapshotter writes snapshots under dir, creating it on first use.
func NewSnapshotter(dir string) *Snapshotter {
	return &Snapshotter{dir: dir}
}

// Write replaces the named snapshot atomically: the JSON is written to a
// temp file and renamed into place, so readers never observe a torn file.
func (s *Snapshotter) Write(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("scheduler: snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: marshal snapshot %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("scheduler: write snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("scheduler: replace snapshot %s: %w", name, err)
	}
	return nil
}

// Read loads the named snapshot into out. Missing files return os.ErrNotExist.
func (s *Snapshotter) Read(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("scheduler: decode snapshot %s: %w", name, err)
	}
	return nil
}
