package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/ringer/pkg/kv"
)

// Compile-time interface checks.
var (
	_ kv.Store             = (*Store)(nil)
	_ kv.CompareAndDeleter = (*Store)(nil)
)

// Store is a [kv.Store] backed by a single PostgreSQL table.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a connection pool to the database at dsn, pings it and
// runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Get implements [kv.Store].
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM ringer_kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", kv.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: get %q: %w", key, err)
	}
	return v, nil
}

// Set implements [kv.Store].
func (s *Store) Set(ctx context.Context, key, value string) error {
	const q = `
INSERT INTO ringer_kv (key, value, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	if _, err := s.pool.Exec(ctx, q, key, value); err != nil {
		return fmt.Errorf("postgres store: set %q: %w", key, err)
	}
	return nil
}

// Delete implements [kv.Store].
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM ringer_kv WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("postgres store: delete: %w", err)
	}
	return nil
}

// CompareAndDelete implements [kv.CompareAndDeleter].
func (s *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ringer_kv WHERE key = $1 AND value = $2`, key, expected)
	if err != nil {
		return false, fmt.Errorf("postgres store: compare-and-delete %q: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping reports whether the database is reachable. It backs /readyz.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
