package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/runnerr0/metmac/internal/config"
	"github.com/runnerr0/metmac/internal/storage"
)

type migrateJSON struct {
	Driver  string   `json:"driver"`
	Pending []string `json:"pending"`
	Applied []string `json:"applied"`
}

// Execute implements the go-flags Commander interface for MigrateCommand.
func (c *MigrateCommand) Execute(args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig(c.globals)
	if err != nil {
		return err
	}
	setupLogging(cfg, c.globals)

	dbPath, err := cfg.Storage.DatabasePath()
	if err != nil {
		return err
	}

	if cfg.Storage.Driver == config.DriverBolt {
		// Bolt buckets are migrated whenever the store is opened.
		store, err := storage.NewBoltStore(dbPath)
		if err != nil {
			return fmt.Errorf("open bolt store: %w", err)
		}
		defer store.Close()
		return c.report(migrateJSON{Driver: config.DriverBolt, Pending: []string{}, Applied: []string{}})
	}

	db, err := storage.OpenSQLite(dbPath, 1, cfg.Storage.BusyTimeoutMS)
	if err != nil {
		return err
	}
	defer db.Close()

	return c.executeWithDB(ctx, db)
}

// executeWithDB runs migrations against a provided database (for testing).
func (c *MigrateCommand) executeWithDB(ctx context.Context, db *sql.DB) error {
	runner := storage.NewMigrationRunner(db)

	pending, err := runner.Pending(ctx)
	if err != nil {
		return err
	}

	out := migrateJSON{Driver: config.DriverSQLite, Pending: pending, Applied: []string{}}
	if c.Status {
		return c.report(out)
	}

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	out.Applied = pending
	out.Pending = []string{}
	return c.report(out)
}

func (c *MigrateCommand) report(out migrateJSON) error {
	if c.globals != nil && c.globals.JSON {
		return writeJSON(out)
	}

	switch {
	case len(out.Applied) > 0:
		for _, name := range out.Applied {
			fmt.Printf("Applied %s\n", name)
		}
	case len(out.Pending) > 0:
		for _, name := range out.Pending {
			fmt.Printf("Pending %s\n", name)
		}
	default:
		fmt.Printf("Schema is up to date (%s).\n", out.Driver)
	}
	return nil
}
