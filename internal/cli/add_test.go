package cli

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/metmac/internal/config"
	"github.com/runnerr0/metmac/internal/ingest"
	"github.com/runnerr0/metmac/internal/storage"
)

func TestAddCommand_BasicEvent(t *testing.T) {
	store := openTestStore(t, time.Now())
	cmd := &AddCommand{Key: "a", Window: "editor", TS: 1234, globals: &GlobalFlags{}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), config.DefaultConfig(), store))
	})

	events, err := store.GetEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.Event{{KeyName: "a", WindowTitle: "editor", Timestamp: 1234}}, events)
	assert.Contains(t, output, "Added event")
	assert.Contains(t, output, "Key: a")
}

func TestAddCommand_DefaultsTimestampAndWindow(t *testing.T) {
	store := openTestStore(t, time.Now())
	cmd := &AddCommand{Key: "space", globals: &GlobalFlags{JSON: true}}
	before := time.Now().UnixMilli()

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), config.DefaultConfig(), store))
	})

	var ev storage.Event
	require.NoError(t, json.Unmarshal([]byte(output), &ev))
	assert.Equal(t, "space", ev.KeyName)
	assert.Equal(t, ingest.UnknownWindow, ev.WindowTitle)
	assert.GreaterOrEqual(t, ev.Timestamp, before)
}

func TestAddCommand_DenylistedWindow(t *testing.T) {
	store := openTestStore(t, time.Now())
	cmd := &AddCommand{Key: "a", Window: "Bitwarden", globals: &GlobalFlags{}}

	err := cmd.executeWithStore(context.Background(), config.DefaultConfig(), store)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ingest.ErrDenylisted))

	events, err := store.GetEvents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAddCommand_InvalidTimestamp(t *testing.T) {
	store := openTestStore(t, time.Now())
	cmd := &AddCommand{Key: "a", TS: -1, globals: &GlobalFlags{}}

	err := cmd.executeWithStore(context.Background(), config.DefaultConfig(), store)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInvalidEvent))
}
