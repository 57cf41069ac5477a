package freshness

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is the gate position as seen by every process sharing a Store.
type Snapshot struct {
	State  State     `json:"state"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since"`
}

// Store persists the gate so one-shot commands and the long-running process
// observe the same degraded mode.
type Store interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// FileStore keeps the snapshot in a small JSON file. A missing file reads as NORMAL.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the snapshot.
func (s *FileStore) Load() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{State: StateNormal}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read gate state: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode gate state %s: %w", s.path, err)
	}
	return snap, nil
}

// Save replaces the file atomically through a rename.
func (s *FileStore) Save(snap Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create gate state dir: %w", err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode gate state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".gate-*.json")
	if err != nil {
		return fmt.Errorf("create gate state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write gate state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync gate state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close gate state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace gate state: %w", err)
	}
	return nil
}
