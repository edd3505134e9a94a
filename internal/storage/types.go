package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidEvent marks an event that fails shape validation.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrSchemaNotMigrated is returned when the database is missing one or
	// more registered migrations. The store refuses to serve until they run.
	ErrSchemaNotMigrated = errors.New("schema not migrated")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// TopKeysLimit caps the number of keys reported in DashboardStats.TopKeys.
const TopKeysLimit = 10

// Event is a single captured key press.
type Event struct {
	KeyName     string `json:"key_name"`
	WindowTitle string `json:"window_title,omitempty"`
	Timestamp   int64  `json:"timestamp"` // milliseconds since the Unix epoch
}

// Validate checks that an event is fit to be buffered and persisted.
func (e Event) Validate() error {
	if strings.TrimSpace(e.KeyName) == "" {
		return fmt.Errorf("%w: key_name is empty", ErrInvalidEvent)
	}
	if e.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrInvalidEvent, e.Timestamp)
	}
	return nil
}

// DashboardStats summarizes today's activity.
type DashboardStats struct {
	TotalToday int64      `json:"total_today"`
	FirstTS    int64      `json:"first_ts"`
	LastTS     int64      `json:"last_ts"`
	TopKeys    []KeyCount `json:"top_keys"`
}

// KeyCount pairs a key name with its number of occurrences.
type KeyCount struct {
	KeyName string `json:"key_name"`
	Count   int64  `json:"count"`
}
