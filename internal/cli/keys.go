package cli

import (
	"context"
	"fmt"

	"github.com/runnerr0/metmac/internal/storage"
)

// Execute implements the go-flags Commander interface for KeysCommand.
func (c *KeysCommand) Execute(args []string) error {
	ctx := context.Background()
	_, store, closeStore, err := prepare(ctx, c.globals)
	if err != nil {
		return err
	}
	defer closeStore()

	return c.executeWithStore(ctx, store)
}

// executeWithStore runs keys against a provided store (for testing).
func (c *KeysCommand) executeWithStore(ctx context.Context, store storage.Store) error {
	if c.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	counts, err := store.GetKeyboardStats(ctx)
	if err != nil {
		return fmt.Errorf("get keyboard stats: %w", err)
	}
	if c.Limit > 0 && len(counts) > c.Limit {
		counts = counts[:c.Limit]
	}

	if c.globals != nil && c.globals.JSON {
		return writeJSON(counts)
	}

	if len(counts) == 0 {
		fmt.Println("No keys recorded yet.")
		return nil
	}

	var total int64
	for _, kc := range counts {
		total += kc.Count
	}
	for i, kc := range counts {
		pct := float64(kc.Count) / float64(total) * 100
		fmt.Printf("%3d. %-20s %10s  %5.1f%%\n", i+1, kc.KeyName, formatNumber(kc.Count), pct)
	}
	return nil
}
