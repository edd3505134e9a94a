package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/home/u/.metmac/data.db", "file:/home/u/.metmac/data.db?"},
		{"/tmp/a?b.db", "file:/tmp/a%3Fb.db?"},
		{"/tmp/c#d.db", "file:/tmp/c%23d.db?"},
		{"/tmp/my data.db", "file:/tmp/my%20data.db?"},
	}
	for _, tt := range tests {
		got := sqliteDSN(tt.path, 5000)
		assert.Contains(t, got, tt.want, tt.path)
		assert.Contains(t, got, "_busy_timeout=5000", tt.path)
	}
}

func TestOpenSQLite_PathWithURICharacters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odd?dir#1", "data.db")

	db, err := OpenSQLite(path, 1, 1000)
	require.NoError(t, err)
	require.NoError(t, NewMigrationRunner(db).Run(context.Background()))
	require.NoError(t, db.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file is created at the literal path")
}
