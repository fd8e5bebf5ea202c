package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBackend persists the whole snapshot as one JSON document on disk. It is
// the fallback used when the transactional store cannot be opened.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend writing to dir/mailcache.json. The file is
// created on first save.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{path: filepath.Join(dir, "mailcache.json")}
}

// Load reads the snapshot file. A missing file is a cold start, not an error.
func (f *FileBackend) Load() (Records, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(Records), nil
		}
		return nil, fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	var records Records
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cache snapshot: %w", err)
	}
	if records == nil {
		records = make(Records)
	}

	return records, nil
}

// SaveAll writes the full snapshot, replacing whatever was there before.
func (f *FileBackend) SaveAll(records Records) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache snapshot: %w", err)
	}

	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}

	return nil
}

func (f *FileBackend) Name() string {
	return "file"
}

func (f *FileBackend) Close() error {
	return nil
}
