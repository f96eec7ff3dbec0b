package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// matchSchema is applied on every start; each statement is idempotent.
var matchSchema = []string{
	`CREATE TABLE IF NOT EXISTS battleship_matches (
		code       TEXT PRIMARY KEY,
		status     TEXT NOT NULL,
		state      JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS battleship_matches_updated_at_idx
		ON battleship_matches (updated_at)`,
}

// EnsureSchema creates the match table and its index if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginTxFunc(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, stmt := range matchSchema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}
