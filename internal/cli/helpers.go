package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/metmac/internal/config"
	"github.com/runnerr0/metmac/internal/log"
	"github.com/runnerr0/metmac/internal/storage"
	"github.com/runnerr0/metmac/internal/tracing"
)

// loadConfig loads the config named by --config, or the default path,
// creating it with defaults when missing.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	path := config.DefaultConfigPath
	if globals != nil && globals.Config != "" {
		path = globals.Config
	}
	cfg, err := config.LoadOrCreateAt(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// setupLogging initializes the global logger. --verbose forces debug.
func setupLogging(cfg *config.Config, globals *GlobalFlags) {
	level := log.Level(cfg.Logging.Level)
	if globals != nil && globals.Verbose {
		level = log.DebugLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: cfg.Logging.JSON})
}

// prepare loads config, sets up logging, and opens the configured store.
// The returned func closes the store and anything beneath it.
func prepare(ctx context.Context, globals *GlobalFlags) (*config.Config, storage.Store, func(), error) {
	cfg, err := loadConfig(globals)
	if err != nil {
		return nil, nil, nil, err
	}
	setupLogging(cfg, globals)

	store, closeFn, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, closeFn, nil
}

// setupTracing installs the tracer provider for a long-running command.
// The returned func flushes and stops it.
func setupTracing(ctx context.Context, cfg *config.Config, version string) (func(), error) {
	shutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "metmac",
		ServiceVersion: version,
		UseStdout:      cfg.Tracing.Stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger := log.WithComponent("tracing")
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}, nil
}

// openStore opens the store selected by storage.driver. SQLite databases
// are migrated before use; bolt stores migrate themselves on open.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	dbPath, err := cfg.Storage.DatabasePath()
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, nil, fmt.Errorf("create database directory: %w", err)
	}

	if cfg.Storage.Driver == config.DriverBolt {
		store, err := storage.NewBoltStore(dbPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open bolt store: %w", err)
		}
		return store, func() { store.Close() }, nil
	}

	db, err := storage.OpenSQLite(dbPath, cfg.Storage.MaxOpenConns, cfg.Storage.BusyTimeoutMS)
	if err != nil {
		return nil, nil, err
	}

	runner := storage.NewMigrationRunner(db)
	if err := runner.Run(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	store, err := storage.NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("create store: %w", err)
	}

	return store, func() {
		store.Close()
		db.Close()
	}, nil
}

// writeJSON pretty-prints v to stdout.
func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDuration parses a human-friendly duration string like "30d", "7d", "24h", "2w".
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("invalid duration: empty string")
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]

	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("invalid duration: %q (use d, h, w, or m suffix)", s)
	}
}

// formatDurationHuman formats a duration into a human-readable string like "30 days".
func formatDurationHuman(d time.Duration) string {
	days := int(d.Hours() / 24)
	if days > 0 {
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(d.Hours())
	if hours > 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}

// fileSize returns the size in bytes of path plus any SQLite WAL file
// beside it, or 0 if it cannot be read.
func fileSize(path string) int64 {
	var total int64
	for _, p := range []string{path, path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// checkDashboard reports whether a dashboard answers /health at addr
// within one second.
func checkDashboard(addr string) bool {
	client := &http.Client{Timeout: 1 * time.Second}
	resp, err := client.Get("http://" + addr + "/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// formatBytes formats a byte count into a human-readable string.
func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats an int64 with comma separators.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
		if len(s) > remainder {
			result.WriteString(",")
		}
	}
	for i := remainder; i < len(s); i += 3 {
		if i > remainder {
			result.WriteString(",")
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// formatMillis renders a millisecond timestamp as local wall time.
func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}
