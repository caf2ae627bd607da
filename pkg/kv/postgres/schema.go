// Package postgres provides a PostgreSQL-backed [kv.Store].
//
// Several engine processes can share one database: [Store.CompareAndDelete]
// is a single DELETE guarded by the expected value, so exactly one of them
// consumes a due call trigger.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Set(ctx, "call_trigger_time", "1700000000000")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlKV = `
CREATE TABLE IF NOT EXISTS ringer_kv (
    key         TEXT         PRIMARY KEY,
    value       TEXT         NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates the key-value table if it does not exist. It is safe to
// call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlKV); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
