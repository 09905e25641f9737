package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps every key in a single JSON document on disk. Writes go to a
// temporary file renamed over the original, so a crash never leaves a torn
// document behind.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	values   map[string]fileEntry
}

// fileEntry holds JSON values inline and anything else base64 encoded.
type fileEntry struct {
	JSON  json.RawMessage `json:"json,omitempty"`
	Bytes []byte          `json:"bytes,omitempty"`
}

func (e fileEntry) value() []byte {
	if e.JSON != nil {
		return append([]byte(nil), e.JSON...)
	}
	return append([]byte(nil), e.Bytes...)
}

// NewFileStore opens or creates the document at filePath.
func NewFileStore(filePath string) (*FileStore, error) {
	s := &FileStore{
		filePath: filePath,
		values:   make(map[string]fileEntry),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("opening file store %s: %w", filePath, err)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return e.value(), nil
}

func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	var e fileEntry
	if json.Valid(value) {
		e.JSON = json.RawMessage(append([]byte(nil), value...))
	} else {
		e.Bytes = append([]byte{}, value...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	s.values[key] = e
	if err := s.persistLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.persistLocked(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

// HealthCheck verifies the directory is still writable.
func (s *FileStore) HealthCheck(context.Context) error {
	info, err := os.Stat(filepath.Dir(s.filePath))
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", filepath.Dir(s.filePath))
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(filepath.Dir(s.filePath), 0o755)
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	values := make(map[string]fileEntry)
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.values = values
	return nil
}

func (s *FileStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.filePath)
}
