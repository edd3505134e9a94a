package storage

import (
	"context"
	"database/sql"
)

// migrateV001 creates the append-only events table.
func migrateV001(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			event_timestamp INTEGER NOT NULL,
			key_name        TEXT NOT NULL CHECK (key_name <> ''),
			window_title    TEXT
		)
	`)
	return err
}

// migrateV002 adds the indexes backing today-scoped and per-key queries.
func migrateV002(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(event_timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_key_name  ON events(key_name)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
