package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps every slot in one JSON object on disk and rewrites the file
// on each mutation.
type FileStore struct {
	path string

	mu    sync.RWMutex
	slots map[string]string
}

func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("state file path is required")
	}

	s := &FileStore{
		path:  path,
		slots: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.slots[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.slots[key]
	s.slots[key] = value
	if err := s.persistLocked(); err != nil {
		if had {
			s.slots[key] = prev
		} else {
			delete(s.slots, key)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[key]; !ok {
		return nil
	}
	delete(s.slots, key)
	return s.persistLocked()
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read state file: %w", err)
	}
	if len(b) == 0 {
		return nil
	}

	decoded := make(map[string]string)
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode state file: %w", err)
	}
	for k, v := range decoded {
		if strings.TrimSpace(k) == "" {
			continue
		}
		s.slots[k] = v
	}
	return nil
}

func (s *FileStore) persistLocked() error {
	b, err := json.MarshalIndent(s.slots, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}
