package database

import (
	"context"
	"fmt"
)

// Each service kind gets its own collection table. They share a schema; the
// payment reference is the single join key across all of them.
var recordTables = []string{
	"convention_registrations",
	"dinner_reservations",
	"accommodation_bookings",
	"brochure_orders",
	"goodwill_messages",
	"donations",
}

const recordTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    user_id UUID NOT NULL,
    payment_reference TEXT NOT NULL UNIQUE,
    amount_minor BIGINT NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    qr_codes JSONB NOT NULL DEFAULT '[]',
    details JSONB NOT NULL DEFAULT '{}',
    checked_in BOOLEAN NOT NULL DEFAULT FALSE,
    checked_in_at TIMESTAMPTZ,
    checked_out_at TIMESTAMPTZ,
    collected BOOLEAN NOT NULL DEFAULT FALSE,
    collected_at TIMESTAMPTZ,
    check_in_history JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    confirmed_at TIMESTAMPTZ
);`

const createUsersSQL = `
CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    full_name TEXT NOT NULL,
    email TEXT NOT NULL,
    phone_number TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (email, phone_number)
);`

const createQRRegenerationsSQL = `
CREATE TABLE IF NOT EXISTS qr_regenerations (
    id TEXT PRIMARY KEY,
    service_type TEXT NOT NULL,
    record_id TEXT NOT NULL,
    payment_reference TEXT NOT NULL,
    admin_id TEXT NOT NULL,
    reason TEXT,
    old_code_hash TEXT NOT NULL,
    new_code_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);`

// Reference, expiry and IP restrictions live inside the signed token itself;
// the table only tracks the spendable budget per token id.
const createDownloadTokensSQL = `
CREATE TABLE IF NOT EXISTS download_tokens (
    id TEXT PRIMARY KEY,
    remaining_downloads INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);`

// Migrate bootstraps the schema.
func (db *DB) Migrate(ctx context.Context) error {
	for _, table := range recordTables {
		if _, err := db.pool.Exec(ctx, fmt.Sprintf(recordTableSQL, table)); err != nil {
			return fmt.Errorf("migrating %s: %w", table, err)
		}
	}

	for name, stmt := range map[string]string{
		"users":            createUsersSQL,
		"qr_regenerations": createQRRegenerationsSQL,
		"download_tokens":  createDownloadTokensSQL,
	} {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrating %s: %w", name, err)
		}
	}

	db.logger.Info("database schema ensured")
	return nil
}
