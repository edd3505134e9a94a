package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens the SQLite file at path, creating its directory if
// needed. Write transactions take the lock up front so concurrent flushes
// wait on busyTimeoutMS instead of failing with SQLITE_BUSY mid-batch.
func OpenSQLite(path string, maxOpenConns, busyTimeoutMS int) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := sqliteDSN(path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// sqliteDSN builds the file: URI for path. The path is escaped so that
// characters such as '?' and '#' stay part of the filename.
func sqliteDSN(path string, busyTimeoutMS int) string {
	escaped := (&url.URL{Path: path}).EscapedPath()
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", escaped, busyTimeoutMS)
}
