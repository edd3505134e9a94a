package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/runnerr0/metmac/internal/storage"
)

// Execute implements the go-flags Commander interface for EventsCommand.
func (c *EventsCommand) Execute(args []string) error {
	ctx := context.Background()
	_, store, closeStore, err := prepare(ctx, c.globals)
	if err != nil {
		return err
	}
	defer closeStore()

	return c.executeWithStore(ctx, store)
}

// executeWithStore dumps events from a provided store (for testing). The
// output is the same JSON lines format that record reads.
func (c *EventsCommand) executeWithStore(ctx context.Context, store storage.Store) error {
	if c.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	events, err := store.GetEvents(ctx)
	if err != nil {
		return fmt.Errorf("get events: %w", err)
	}
	if c.Limit > 0 && len(events) > c.Limit {
		events = events[len(events)-c.Limit:]
	}

	enc := json.NewEncoder(os.Stdout)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
