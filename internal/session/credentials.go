package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/shopclient/internal/storage"
)

// Credentials is the single named slot holding the bearer token.
type Credentials struct {
	slots storage.Slots
	key   string
}

func NewCredentials(slots storage.Slots, key string) (*Credentials, error) {
	if slots == nil {
		return nil, fmt.Errorf("slot storage is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("credential slot key is required")
	}
	return &Credentials{slots: slots, key: key}, nil
}

// Token returns the stored token; ok is false when the slot is empty.
func (c *Credentials) Token(ctx context.Context) (string, bool, error) {
	tok, err := c.slots.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read credential slot: %w", err)
	}
	if tok == "" {
		return "", false, nil
	}
	return tok, true, nil
}

func (c *Credentials) Store(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("token must not be empty")
	}
	if err := c.slots.Set(ctx, c.key, token); err != nil {
		return fmt.Errorf("write credential slot: %w", err)
	}
	return nil
}

func (c *Credentials) Clear(ctx context.Context) error {
	if err := c.slots.Delete(ctx, c.key); err != nil {
		return fmt.Errorf("delete credential slot: %w", err)
	}
	return nil
}
