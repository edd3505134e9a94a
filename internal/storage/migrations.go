package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, tx *sql.Tx) error
}

// registeredMigrations lists every migration in the order it must run.
var registeredMigrations = []migration{
	{Version: 1, Name: "create_events", Apply: migrateV001},
	{Version: 2, Name: "index_events", Apply: migrateV002},
}

// MigrationRunner applies pending migrations to a SQLite database.
type MigrationRunner struct {
	db         *sql.DB
	migrations []migration
}

// NewMigrationRunner creates a MigrationRunner with all registered migrations.
func NewMigrationRunner(db *sql.DB) *MigrationRunner {
	return &MigrationRunner{
		db:         db,
		migrations: registeredMigrations,
	}
}

// Run applies all pending migrations in order. It enables WAL mode and
// foreign keys, creates the schema_migrations ledger, then applies each
// migration whose name hasn't been recorded yet.
func (r *MigrationRunner) Run(ctx context.Context) error {
	// Enable WAL mode so dashboard reads don't block flushes.
	if _, err := r.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := r.ensureLedger(ctx); err != nil {
		return err
	}

	for _, m := range r.migrations {
		applied, err := r.isApplied(ctx, m.Name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if applied {
			continue
		}

		if err := r.apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}

	return nil
}

// Pending returns the names of registered migrations that have not been
// applied. A database without a ledger reports every migration as pending.
func (r *MigrationRunner) Pending(ctx context.Context) ([]string, error) {
	var ledger int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&ledger)
	if err != nil {
		return nil, fmt.Errorf("check migration ledger: %w", err)
	}

	pending := []string{}
	for _, m := range r.migrations {
		if ledger == 0 {
			pending = append(pending, m.Name)
			continue
		}
		applied, err := r.isApplied(ctx, m.Name)
		if err != nil {
			return nil, fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if !applied {
			pending = append(pending, m.Name)
		}
	}
	return pending, nil
}

func (r *MigrationRunner) ensureLedger(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			version    INTEGER NOT NULL UNIQUE,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

// isApplied checks whether a migration name has already been recorded.
func (r *MigrationRunner) isApplied(ctx context.Context, name string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE name = ?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// apply executes a migration inside a transaction and records it.
func (r *MigrationRunner) apply(ctx context.Context, m migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := m.Apply(ctx, tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (name, version) VALUES (?, ?)",
		m.Name, m.Version,
	); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}
