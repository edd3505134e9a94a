package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/metmac/internal/storage"
)

// setupPruneTest seeds oldCount events from 60 days ago and recentCount
// events from an hour ago.
func setupPruneTest(t *testing.T, now time.Time, oldCount, recentCount int) *storage.SQLiteStore {
	t.Helper()
	store := openTestStore(t, now)

	var events []storage.Event
	for i := 0; i < oldCount; i++ {
		events = append(events, storage.Event{
			KeyName:   fmt.Sprintf("old%d", i),
			Timestamp: now.Add(-60 * 24 * time.Hour).UnixMilli(),
		})
	}
	for i := 0; i < recentCount; i++ {
		events = append(events, storage.Event{
			KeyName:   fmt.Sprintf("new%d", i),
			Timestamp: now.Add(-time.Hour).UnixMilli(),
		})
	}
	seed(t, store, events...)
	return store
}

func countEvents(t *testing.T, store storage.Store) int {
	t.Helper()
	events, err := store.GetEvents(context.Background())
	require.NoError(t, err)
	return len(events)
}

func TestPrune_DeletesOldEvents(t *testing.T) {
	now := time.Now()
	store := setupPruneTest(t, now, 3, 2)
	cmd := &PruneCommand{OlderThan: "30d", globals: &GlobalFlags{}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), store, now))
	})

	assert.Contains(t, output, "Deleted 3 events older than 30 days.")
	assert.Equal(t, 2, countEvents(t, store))
}

func TestPrune_DryRunDeletesNothing(t *testing.T) {
	now := time.Now()
	store := setupPruneTest(t, now, 3, 2)
	cmd := &PruneCommand{OlderThan: "30d", DryRun: true, globals: &GlobalFlags{JSON: true}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), store, now))
	})

	var out pruneJSON
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.True(t, out.DryRun)
	assert.Equal(t, int64(3), out.Matched)
	assert.Equal(t, 5, countEvents(t, store))
}

func TestPrune_ShortRetention(t *testing.T) {
	now := time.Now()
	store := setupPruneTest(t, now, 1, 2)
	cmd := &PruneCommand{OlderThan: "30m", globals: &GlobalFlags{}}

	captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), store, now))
	})
	assert.Equal(t, 0, countEvents(t, store))
}

func TestPrune_InvalidDuration(t *testing.T) {
	store := openTestStore(t, time.Now())
	cmd := &PruneCommand{OlderThan: "forever", globals: &GlobalFlags{}}

	err := cmd.executeWithStore(context.Background(), store, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
