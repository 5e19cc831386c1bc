package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS client_slots (
	slot_key TEXT PRIMARY KEY,
	slot_value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure client_slots schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	const q = `SELECT slot_value FROM client_slots WHERE slot_key = $1`
	var v string
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query slot: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO client_slots (slot_key, slot_value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (slot_key) DO UPDATE SET slot_value = EXCLUDED.slot_value, updated_at = now()`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("upsert slot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_slots WHERE slot_key = $1`, key); err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}
