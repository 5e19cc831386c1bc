// Package session keeps the process-wide view of who is signed in: the user
// record held in memory and the minimal projection persisted across restarts.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"storefront/shopclient/internal/shop"
	"storefront/shopclient/internal/storage"
)

// Projection is the persisted subset of a user. Contact and address fields
// are deliberately absent and must be re-fetched after a restart.
type Projection struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

func project(u shop.User) Projection {
	return Projection{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
	}
}

func (p Projection) User() shop.User {
	return shop.User{
		ID:        p.ID,
		Username:  p.Username,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		IsActive:  true,
	}
}

// Reader is the read-only view handed to components that must not write the session.
type Reader interface {
	Get() (shop.User, bool)
}

type Store struct {
	slots storage.Slots
	key   string

	mu   sync.RWMutex
	user *shop.User
}

func NewStore(slots storage.Slots, key string) (*Store, error) {
	if slots == nil {
		return nil, fmt.Errorf("slot storage is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("session slot key is required")
	}
	return &Store{slots: slots, key: key}, nil
}

// Load restores the persisted projection, if any.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.slots.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read session slot: %w", err)
	}
	if raw == "" {
		return nil
	}
	var p Projection
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fmt.Errorf("decode session slot: %w", err)
	}
	u := p.User()

	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	return nil
}

func (s *Store) Get() (shop.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return shop.User{}, false
	}
	return *s.user, true
}

func (s *Store) Set(ctx context.Context, u shop.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.user
	s.user = &u
	if err := s.persistLocked(ctx); err != nil {
		s.user = prev
		return err
	}
	return nil
}

// Update merges patch into the current user. Without a session it does nothing
// and reports false; it never creates a session.
func (s *Store) Update(ctx context.Context, patch shop.UserPatch) (shop.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return shop.User{}, false, nil
	}
	prev := s.user
	merged := patch.Apply(*s.user)
	s.user = &merged
	if err := s.persistLocked(ctx); err != nil {
		s.user = prev
		return *prev, true, err
	}
	return merged, true, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = nil
	if err := s.slots.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete session slot: %w", err)
	}
	return nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	b, err := json.Marshal(project(*s.user))
	if err != nil {
		return fmt.Errorf("encode session slot: %w", err)
	}
	if err := s.slots.Set(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("write session slot: %w", err)
	}
	return nil
}
