// Package storage holds the durable client slots: small named values such as
// the bearer credential and the persisted user projection.
package storage

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("slot not found")

// Slots is durable key/value storage for client state. A missing key reports
// ErrNotFound from Get; Delete of a missing key is not an error.
type Slots interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.slots[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
	return nil
}
