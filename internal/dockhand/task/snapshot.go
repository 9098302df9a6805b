package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// snapshot is the single durable object: the full task map plus the save
// timestamp, overwritten wholesale on every save. No history, no schema
// versioning.
type snapshot struct {
	Tasks     map[string]Task `json:"tasks"`
	LastSaved time.Time       `json:"lastSaved"`
}

// writeSnapshot atomically replaces the snapshot file: write to a temp file
// in the same directory, sync, then rename over the old snapshot.
func writeSnapshot(path string, tasks map[string]Task, now time.Time) error {
	data, err := json.MarshalIndent(snapshot{Tasks: tasks, LastSaved: now}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// loadSnapshot reads the snapshot at path. A missing or malformed file is
// not an error: the store starts empty and the condition is logged, so a bad
// snapshot can never block startup.
func loadSnapshot(path string) (map[string]Task, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("no task snapshot found, starting empty", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		slog.Warn("task snapshot is malformed, starting empty", "path", path, "err", err)
		return nil, nil
	}

	// The map key is authoritative for lookups; tolerate records whose body
	// disagrees by trusting the key.
	for id, t := range snap.Tasks {
		if t.ID != id {
			t.ID = id
			snap.Tasks[id] = t
		}
	}
	return snap.Tasks, nil
}
