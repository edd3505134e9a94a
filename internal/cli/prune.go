package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/runnerr0/metmac/internal/storage"
)

type pruneJSON struct {
	Cutoff  string `json:"cutoff"`
	DryRun  bool   `json:"dry_run"`
	Matched int64  `json:"matched"`
}

// Execute implements the go-flags Commander interface for PruneCommand.
func (c *PruneCommand) Execute(args []string) error {
	ctx := context.Background()
	_, store, closeStore, err := prepare(ctx, c.globals)
	if err != nil {
		return err
	}
	defer closeStore()

	return c.executeWithStore(ctx, store, time.Now())
}

// executeWithStore prunes a provided store relative to now (for testing).
func (c *PruneCommand) executeWithStore(ctx context.Context, store storage.Store, now time.Time) error {
	retention, err := parseDuration(c.OlderThan)
	if err != nil {
		return err
	}
	cutoff := now.Add(-retention)
	cutoffMs := cutoff.UnixMilli()

	var matched int64
	if c.DryRun {
		events, err := store.GetEvents(ctx)
		if err != nil {
			return fmt.Errorf("get events: %w", err)
		}
		for _, e := range events {
			if e.Timestamp < cutoffMs {
				matched++
			}
		}
	} else {
		matched, err = store.DeleteBefore(ctx, cutoffMs)
		if err != nil {
			return fmt.Errorf("prune failed: %w", err)
		}
	}

	if c.globals != nil && c.globals.JSON {
		return writeJSON(pruneJSON{
			Cutoff:  cutoff.UTC().Format(time.RFC3339),
			DryRun:  c.DryRun,
			Matched: matched,
		})
	}

	verb := "Deleted"
	if c.DryRun {
		verb = "Would delete"
	}
	fmt.Printf("%s %s events older than %s.\n", verb, formatNumber(matched), formatDurationHuman(retention))
	return nil
}
