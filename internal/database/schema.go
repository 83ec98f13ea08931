package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Amounts are NUMERIC so no binary floating point reaches the ledger.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS shops (
		shop_id             TEXT PRIMARY KEY,
		purchased_balance   NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (purchased_balance >= 0),
		total_tokens_issued NUMERIC(38, 18) NOT NULL DEFAULT 0 CHECK (total_tokens_issued >= 0),
		version             BIGINT NOT NULL DEFAULT 0,
		last_activity_at    TIMESTAMPTZ,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS shop_balance_entries (
		id             UUID PRIMARY KEY,
		shop_id        TEXT NOT NULL REFERENCES shops (shop_id),
		entry_type     TEXT NOT NULL CHECK (entry_type IN ('DEDUCTION', 'PURCHASE')),
		amount         NUMERIC(38, 18) NOT NULL CHECK (amount > 0),
		tokens_issued  NUMERIC(38, 18) NOT NULL DEFAULT 0,
		balance_before NUMERIC(38, 18) NOT NULL,
		balance_after  NUMERIC(38, 18) NOT NULL,
		reference      TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shop_balance_entries_shop_created
		ON shop_balance_entries (shop_id, created_at DESC)`,
}

// EnsureSchema creates the ledger tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
