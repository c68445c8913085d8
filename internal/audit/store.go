package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// schema creates the audit table if absent. Raw SQL, no ORM, matching
// the teacher's database/sql style throughout the pack.
const schema = `
CREATE TABLE IF NOT EXISTS kgb_audit_log (
	id         BIGSERIAL PRIMARY KEY,
	event_type TEXT NOT NULL,
	source     TEXT NOT NULL,
	subject    TEXT NOT NULL,
	network    TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL DEFAULT '{}',
	occurred_at TIMESTAMPTZ NOT NULL
)`

const insertEntry = `
INSERT INTO kgb_audit_log (event_type, source, subject, network, data, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// PostgresStore is the lib/pq-backed Store (spec.md §4.10 "backed by lib/pq").
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects to dsn, verifies it with Ping, and ensures
// the audit table exists. Returns (nil, nil) for an empty dsn, so callers
// can pass config.GlobalConfig.AuditDSN straight through and get a no-op
// audit log when it's unset.
func OpenPostgresStore(dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: failed to ensure schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// InsertEntry persists one audit entry.
func (s *PostgresStore) InsertEntry(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal entry data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertEntry, e.EventType, e.Source, e.Subject, e.Network, data, e.Time)
	if err != nil {
		return fmt.Errorf("audit: failed to insert entry: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
