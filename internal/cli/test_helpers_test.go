package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/metmac/internal/storage"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// openTestStore creates a migrated in-memory store. The store's "today"
// is the day containing now.
func openTestStore(t *testing.T, now time.Time) *storage.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	runner := storage.NewMigrationRunner(db)
	require.NoError(t, runner.Run(context.Background()))

	store, err := storage.NewSQLiteStore(db, storage.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func seed(t *testing.T, store storage.Store, events ...storage.Event) {
	t.Helper()
	require.NoError(t, store.InsertEvents(context.Background(), events))
}
