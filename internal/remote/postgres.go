// Package remote is the Postgres-backed remote key/value tier.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memvra/companion/internal/kv"
)

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	createTableSQL = `
CREATE TABLE IF NOT EXISTS companion_kv (
    key        TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	selectValueSQL = `SELECT value FROM companion_kv WHERE key = $1`

	upsertValueSQL = `
INSERT INTO companion_kv (key, value, updated_at) VALUES ($1, $2::jsonb, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	deleteValueSQL = `DELETE FROM companion_kv WHERE key = $1`
)

// Store implements kv.Store on a Postgres table.
type Store struct {
	q Querier
}

var _ kv.Store = (*Store)(nil)

// New wraps a pool (or any Querier).
func New(q Querier) *Store {
	return &Store{q: q}
}

// Connect opens a pool and verifies it answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("remote: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("remote: ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the key/value table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.q.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("remote: ensure schema: %w", err)
	}
	return nil
}

// GetJSON implements kv.Store.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	var raw []byte
	err := s.q.QueryRow(ctx, selectValueSQL, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remote: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("remote: decode %s: %w", key, errors.Join(kv.ErrMalformed, err))
	}
	return true, nil
}

// SetJSON implements kv.Store.
func (s *Store) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("remote: encode %s: %w", key, err)
	}
	if _, err := s.q.Exec(ctx, upsertValueSQL, key, string(raw)); err != nil {
		return fmt.Errorf("remote: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.q.Exec(ctx, deleteValueSQL, key); err != nil {
		return fmt.Errorf("remote: delete %s: %w", key, err)
	}
	return nil
}
