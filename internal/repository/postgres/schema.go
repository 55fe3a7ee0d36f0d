// internal/repository/postgres/schema.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations are applied in order; each statement is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         BIGSERIAL PRIMARY KEY,
		identity   TEXT NOT NULL UNIQUE,
		balance    NUMERIC(28, 8) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id                 BIGSERIAL PRIMARY KEY,
		user_id            BIGINT NOT NULL REFERENCES users (id),
		direction          TEXT NOT NULL CHECK (direction IN ('deposit', 'withdraw')),
		rail               TEXT NOT NULL CHECK (rail IN ('cash_agent', 'wallet_cash', 'exchange')),
		currency           TEXT NOT NULL,
		chain              TEXT NOT NULL DEFAULT '',
		amount             NUMERIC(28, 8) NOT NULL CHECK (amount > 0),
		fee                NUMERIC(28, 8) NOT NULL DEFAULT 0,
		net_amount         NUMERIC(28, 8) NOT NULL,
		settled_amount     NUMERIC(28, 8),
		settled_currency   TEXT NOT NULL,
		destination        TEXT NOT NULL DEFAULT '',
		external_reference TEXT,
		payout_key         TEXT,
		status             TEXT NOT NULL,
		reason             TEXT,
		created_at         TIMESTAMPTZ NOT NULL,
		decided_at         TIMESTAMPTZ,
		completed_at       TIMESTAMPTZ,
		refunded_at        TIMESTAMPTZ,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transactions_rail_reference_live
		ON transactions (rail, external_reference)
		WHERE status <> 'rejected' AND external_reference IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS transactions_status_created ON transactions (status, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS transactions_user_created ON transactions (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id         BIGSERIAL PRIMARY KEY,
		source     TEXT NOT NULL,
		tx_id      BIGINT NOT NULL,
		action     TEXT NOT NULL,
		actor      TEXT NOT NULL,
		reason     TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_log_subject ON audit_log (source, tx_id)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		version    BIGINT NOT NULL DEFAULT 1,
		updated_by TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS whitelisted_destinations (
		id             BIGSERIAL PRIMARY KEY,
		user_id        BIGINT NOT NULL REFERENCES users (id),
		rail           TEXT NOT NULL,
		chain          TEXT NOT NULL DEFAULT '',
		destination    TEXT NOT NULL,
		label          TEXT,
		status         TEXT NOT NULL CHECK (status IN ('pending', 'active', 'inactive')),
		approved_by    TEXT,
		approved_at    TIMESTAMPTZ,
		deactivated_at TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS whitelisted_destinations_live
		ON whitelisted_destinations (user_id, rail, chain, destination)
		WHERE status <> 'inactive'`,
	// Balances and transaction amounts share one precision.
	`ALTER TABLE users ALTER COLUMN balance TYPE NUMERIC(28, 8)`,
}

// Migrate creates the schema inside a single transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate: failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: statement %d failed: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: failed to commit: %w", err)
	}
	return nil
}
