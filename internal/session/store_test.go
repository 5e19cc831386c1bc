package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"storefront/shopclient/internal/shop"
	"storefront/shopclient/internal/storage"
)

func fullUser() shop.User {
	return shop.User{
		ID:          7,
		Username:    "ivan",
		Email:       "ivan@example.com",
		FirstName:   "Ivan",
		LastName:    "Petrov",
		PhoneNumber: "+7777777777",
		Address:     "Abaya 1",
		City:        "Astana",
		IsActive:    true,
	}
}

func TestStoreSetPersistsProjectionOnly(t *testing.T) {
	ctx := context.Background()
	slots := storage.NewMemoryStore()
	store, err := NewStore(slots, "user")
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}

	if err := store.Set(ctx, fullUser()); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, ok := store.Get()
	if !ok || got.Address != "Abaya 1" {
		t.Fatalf("expected full user in memory, got %+v ok=%v", got, ok)
	}

	raw, err := slots.Get(ctx, "user")
	if err != nil {
		t.Fatalf("read slot: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("decode slot: %v", err)
	}
	for _, k := range []string{"phone_number", "address", "city"} {
		if _, ok := decoded[k]; ok {
			t.Fatalf("contact field %q must not be persisted: %s", k, raw)
		}
	}
	if decoded["username"] != "ivan" || decoded["email"] != "ivan@example.com" {
		t.Fatalf("unexpected projection: %s", raw)
	}
}

func TestStoreLoadRestoresProjection(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	slots, err := storage.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error: %v", err)
	}
	store, _ := NewStore(slots, "user")
	if err := store.Set(ctx, fullUser()); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	slots2, err := storage.NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() second error: %v", err)
	}
	store2, _ := NewStore(slots2, "user")
	if err := store2.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	got, ok := store2.Get()
	if !ok {
		t.Fatalf("expected restored session")
	}
	if got.ID != 7 || got.FirstName != "Ivan" {
		t.Fatalf("unexpected restored user: %+v", got)
	}
	if got.Address != "" || got.City != "" || got.PhoneNumber != "" {
		t.Fatalf("contact fields must be re-fetched, got %+v", got)
	}
}

func TestStoreUpdateWithoutSessionIsNoop(t *testing.T) {
	ctx := context.Background()
	slots := storage.NewMemoryStore()
	store, _ := NewStore(slots, "user")

	city := "Almaty"
	_, ok, err := store.Update(ctx, shop.UserPatch{City: &city})
	if err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if ok {
		t.Fatalf("expected no-op update without a session")
	}
	if _, ok := store.Get(); ok {
		t.Fatalf("Update must not create a session")
	}
	if _, err := slots.Get(ctx, "user"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected nothing persisted, got %v", err)
	}
}

func TestStoreUpdateMerges(t *testing.T) {
	ctx := context.Background()
	store, _ := NewStore(storage.NewMemoryStore(), "user")
	_ = store.Set(ctx, fullUser())

	city := "Almaty"
	got, ok, err := store.Update(ctx, shop.UserPatch{City: &city})
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}
	if got.City != "Almaty" || got.Address != "Abaya 1" {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	slots := storage.NewMemoryStore()
	store, _ := NewStore(slots, "user")
	_ = store.Set(ctx, fullUser())

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, ok := store.Get(); ok {
		t.Fatalf("expected no session after Clear")
	}
	if _, err := slots.Get(ctx, "user"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected session slot removed, got %v", err)
	}
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	creds, err := NewCredentials(storage.NewMemoryStore(), "token")
	if err != nil {
		t.Fatalf("NewCredentials() error: %v", err)
	}
	if _, ok, err := creds.Token(ctx); ok || err != nil {
		t.Fatalf("expected no token, got ok=%v err=%v", ok, err)
	}
	if err := creds.Store(ctx, ""); err == nil {
		t.Fatalf("expected error storing empty token")
	}
	if err := creds.Store(ctx, "abc"); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	if tok, ok, _ := creds.Token(ctx); !ok || tok != "abc" {
		t.Fatalf("expected token abc, got %q", tok)
	}
	if err := creds.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, ok, _ := creds.Token(ctx); ok {
		t.Fatalf("expected token cleared")
	}
}
