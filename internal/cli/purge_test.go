package cli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/metmac/internal/storage"
)

func TestPurge_WithAllAndForce_Succeeds(t *testing.T) {
	store := openTestStore(t, time.Now())
	seed(t, store, storage.Event{KeyName: "a", Timestamp: 1}, storage.Event{KeyName: "b", Timestamp: 2})
	cmd := &PurgeCommand{All: true, Force: true, globals: &GlobalFlags{JSON: true}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), store, strings.NewReader("")))
	})

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &out))
	assert.Equal(t, true, out["purged"])
	assert.Equal(t, float64(2), out["deleted"])
	assert.Equal(t, 0, countEvents(t, store))
}

func TestPurge_ConfirmationAccepted(t *testing.T) {
	store := openTestStore(t, time.Now())
	seed(t, store, storage.Event{KeyName: "a", Timestamp: 1})
	cmd := &PurgeCommand{All: true, globals: &GlobalFlags{}}

	output := captureOutput(t, func() {
		require.NoError(t, cmd.executeWithStore(context.Background(), store, strings.NewReader("PURGE\n")))
	})

	assert.Contains(t, output, `Type "PURGE" to confirm`)
	assert.Contains(t, output, "Purged 1 events.")
	assert.Equal(t, 0, countEvents(t, store))
}

func TestPurge_ConfirmationMismatch(t *testing.T) {
	store := openTestStore(t, time.Now())
	seed(t, store, storage.Event{KeyName: "a", Timestamp: 1})
	cmd := &PurgeCommand{All: true, globals: &GlobalFlags{}}

	var err error
	captureOutput(t, func() {
		err = cmd.executeWithStore(context.Background(), store, strings.NewReader("yes\n"))
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirmation text did not match")
	assert.Equal(t, 1, countEvents(t, store))
}

func TestPurge_NoInput(t *testing.T) {
	store := openTestStore(t, time.Now())
	cmd := &PurgeCommand{All: true, globals: &GlobalFlags{}}

	var err error
	captureOutput(t, func() {
		err = cmd.executeWithStore(context.Background(), store, strings.NewReader(""))
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input received")
}
