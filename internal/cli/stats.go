package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/metmac/internal/storage"
)

// statsJSON is the JSON output structure for the stats command.
type statsJSON struct {
	Version           string             `json:"version"`
	DatabasePath      string             `json:"database_path"`
	DatabaseSizeBytes int64              `json:"database_size_bytes"`
	TotalToday        int64              `json:"total_today"`
	FirstTS           int64              `json:"first_ts"`
	LastTS            int64              `json:"last_ts"`
	TopKeys           []storage.KeyCount `json:"top_keys"`
	DashboardRunning  bool               `json:"dashboard_running"`
}

// Execute implements the go-flags Commander interface for StatsCommand.
func (c *StatsCommand) Execute(args []string) error {
	ctx := context.Background()
	cfg, store, closeStore, err := prepare(ctx, c.globals)
	if err != nil {
		return err
	}
	defer closeStore()

	dbPath, err := cfg.Storage.DatabasePath()
	if err != nil {
		return err
	}
	return c.executeWithStore(ctx, store, dbPath, cfg.Server.Addr())
}

// executeWithStore runs stats against a provided store (for testing).
func (c *StatsCommand) executeWithStore(ctx context.Context, store storage.Store, dbPath, dashboardAddr string) error {
	stats, err := store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	out := statsJSON{
		Version:           c.version,
		DatabasePath:      dbPath,
		DatabaseSizeBytes: fileSize(dbPath),
		TotalToday:        stats.TotalToday,
		FirstTS:           stats.FirstTS,
		LastTS:            stats.LastTS,
		TopKeys:           stats.TopKeys,
		DashboardRunning:  checkDashboard(dashboardAddr),
	}

	if c.globals != nil && c.globals.JSON {
		return writeJSON(out)
	}
	c.printHuman(out, dashboardAddr)
	return nil
}

func (c *StatsCommand) printHuman(out statsJSON, dashboardAddr string) {
	fmt.Println("metmac Stats")
	fmt.Println("============")
	fmt.Printf("Version:       %s\n", out.Version)
	fmt.Printf("Database:      %s (%s)\n", out.DatabasePath, formatBytes(out.DatabaseSizeBytes))
	fmt.Printf("Keys today:    %s\n", formatNumber(out.TotalToday))

	if out.TotalToday > 0 {
		fmt.Printf("First key:     %s\n", formatMillis(out.FirstTS))
		fmt.Printf("Last key:      %s\n", formatMillis(out.LastTS))
	}

	if len(out.TopKeys) > 0 {
		fmt.Println()
		fmt.Println("Top Keys:")
		for _, k := range out.TopKeys {
			fmt.Printf("  %-20s %s\n", k.KeyName, formatNumber(k.Count))
		}
	}

	fmt.Println()
	if out.DashboardRunning {
		fmt.Printf("Dashboard:     running at http://%s\n", dashboardAddr)
	} else {
		fmt.Println("Dashboard:     not running")
	}
}
