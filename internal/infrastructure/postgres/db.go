// Package postgres is the relational backend for the notification and endpoint stores,
// selected with STORE_DRIVER=postgres.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	tableNotifications = "scheduled_notifications"
	tableEndpoints     = "delivery_endpoints"
)

// DB is the subset of *pgxpool.Pool the repos use. Tests substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + tableNotifications + ` (
		id              TEXT PRIMARY KEY,
		recipient_id    TEXT NOT NULL,
		related_item_id TEXT,
		kind            TEXT NOT NULL,
		title           TEXT NOT NULL DEFAULT '',
		body            TEXT NOT NULL DEFAULT '',
		scheduled_for   TIMESTAMPTZ NOT NULL,
		sent_at         TIMESTAMPTZ,
		is_sent         BOOLEAN NOT NULL DEFAULT FALSE,
		attempts        INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ,
		last_error      TEXT NOT NULL DEFAULT '',
		CHECK (is_sent = (sent_at IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_due
		ON ` + tableNotifications + ` (scheduled_for) WHERE NOT is_sent`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_sent_at
		ON ` + tableNotifications + ` (sent_at) WHERE is_sent`,
	`CREATE TABLE IF NOT EXISTS ` + tableEndpoints + ` (
		id           TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL,
		token        TEXT NOT NULL,
		platform     TEXT NOT NULL,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_endpoints_recipient
		ON ` + tableEndpoints + ` (recipient_id) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_endpoints_token
		ON ` + tableEndpoints + ` (token)`,
}

// Migrate creates the tables and indexes if they don't already exist.
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
