package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/metmac/internal/config"
	"github.com/runnerr0/metmac/internal/ingest"
	"github.com/runnerr0/metmac/internal/storage"
)

// Execute implements the go-flags Commander interface for AddCommand.
func (c *AddCommand) Execute(args []string) error {
	if c.Key == "" {
		return fmt.Errorf("--key is required for add command")
	}

	ctx := context.Background()
	cfg, store, closeStore, err := prepare(ctx, c.globals)
	if err != nil {
		return err
	}
	defer closeStore()

	return c.executeWithStore(ctx, cfg, store)
}

// executeWithStore runs the add logic against a provided store (used by tests).
func (c *AddCommand) executeWithStore(ctx context.Context, cfg *config.Config, store storage.Store) error {
	raw := ingest.RawEvent{KeyName: c.Key, Timestamp: c.TS}
	if c.Window != "" {
		raw.WindowTitle = &c.Window
	}

	denylist, err := ingest.NewDenylist(cfg.Capture.DenylistWindows, cfg.Capture.DenylistRegex)
	if err != nil {
		return err
	}

	// Check the denylist here so the user gets an explicit error instead of
	// a silently dropped event.
	event, err := ingest.NewNormalizer(ingest.NoWindow{}, denylist).Normalize(ctx, raw)
	if err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	if err := store.InsertEvents(ctx, []storage.Event{event}); err != nil {
		return fmt.Errorf("storing event: %w", err)
	}

	if c.globals != nil && c.globals.JSON {
		return writeJSON(event)
	}

	fmt.Printf("Added event (%s)\n", time.UnixMilli(event.Timestamp).Format(time.RFC3339))
	fmt.Printf("  Key: %s\n", event.KeyName)
	fmt.Printf("  Window: %s\n", event.WindowTitle)
	return nil
}
