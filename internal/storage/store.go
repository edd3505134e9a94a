package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnerr0/metmac/internal/log"
	"github.com/runnerr0/metmac/internal/metrics"
)

const backendSQLite = "sqlite"

var tracer = otel.Tracer("github.com/runnerr0/metmac/internal/storage")

// Store defines the interface for durable event persistence and the
// dashboard's aggregate reads.
type Store interface {
	// InsertEvents commits the whole batch in one transaction or none of it.
	InsertEvents(ctx context.Context, events []Event) error
	GetEvents(ctx context.Context) ([]Event, error)
	GetStats(ctx context.Context) (*DashboardStats, error)
	GetKeyboardStats(ctx context.Context) ([]KeyCount, error)
	// DeleteBefore removes events older than cutoffMs and returns how many
	// were removed.
	DeleteBefore(ctx context.Context, cutoffMs int64) (int64, error)
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
	loc *time.Location
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the clock used to decide what "today" is.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the time zone whose midnight bounds "today".
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	opts   options
	logger zerolog.Logger

	// Prepared statements
	insertEvent   *sql.Stmt
	selectEvents  *sql.Stmt
	keyboardStats *sql.Stmt
}

// NewSQLiteStore creates a new SQLiteStore from an already-opened and
// migrated database. It fails with ErrSchemaNotMigrated if any registered
// migration is missing from the ledger.
func NewSQLiteStore(db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:     db,
		opts:   newOptions(opts),
		logger: log.WithComponent("storage").With().Str("backend", backendSQLite).Logger(),
	}

	if err := s.VerifySchema(context.Background()); err != nil {
		return nil, err
	}

	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	return s, nil
}

// VerifySchema checks that every registered migration has been applied.
func (s *SQLiteStore) VerifySchema(ctx context.Context) error {
	pending, err := NewMigrationRunner(s.db).Pending(ctx)
	if err != nil {
		return fmt.Errorf("verify schema: %w", err)
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: pending migrations %v", ErrSchemaNotMigrated, pending)
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.insertEvent, err = s.db.Prepare(`
		INSERT INTO events (event_timestamp, key_name, window_title)
		VALUES (?, ?, ?)
	`)
	if err != nil {
		return err
	}

	s.selectEvents, err = s.db.Prepare(`
		SELECT event_timestamp, key_name, window_title
		FROM events ORDER BY id
	`)
	if err != nil {
		return err
	}

	s.keyboardStats, err = s.db.Prepare(`
		SELECT key_name, COUNT(*) AS cnt
		FROM events
		GROUP BY key_name
		ORDER BY cnt DESC, key_name ASC
	`)
	if err != nil {
		return err
	}

	return nil
}

// InsertEvents writes events in arrival order inside one transaction. An
// empty batch is a no-op. Any failure rolls back every row of the batch.
func (s *SQLiteStore) InsertEvents(ctx context.Context, events []Event) (err error) {
	if len(events) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "storage.insert_events", trace.WithAttributes(
		attribute.String("backend", backendSQLite),
		attribute.Int("batch.size", len(events)),
	))
	defer func() { finishSpan(span, err) }()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendSQLite, "insert_events")

	s.logger.Debug().Int("events", len(events)).Msg("inserting events")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.StmtContext(ctx, s.insertEvent)
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Timestamp, e.KeyName, nullString(e.WindowTitle)); err != nil {
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	metrics.EventsPersisted.WithLabelValues(backendSQLite).Add(float64(len(events)))
	return nil
}

// GetEvents returns every stored event in insertion order.
func (s *SQLiteStore) GetEvents(ctx context.Context) ([]Event, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendSQLite, "get_events")

	rows, err := s.selectEvents.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var title sql.NullString
		if err := rows.Scan(&e.Timestamp, &e.KeyName, &title); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.WindowTitle = title.String
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// GetStats returns today's totals, first and last timestamps and the most
// frequent keys. All three reads share one read transaction so they describe
// the same snapshot.
func (s *SQLiteStore) GetStats(ctx context.Context) (*DashboardStats, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendSQLite, "get_stats")

	start, end := DayBounds(s.opts.now(), s.opts.loc)

	// The DSN makes BeginTx take the write lock, so the snapshot is opened
	// by hand as a deferred read that does not wait on flushes.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer conn.ExecContext(context.Background(), "ROLLBACK") //nolint:errcheck

	stats := &DashboardStats{TopKeys: []KeyCount{}}

	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MIN(event_timestamp), 0), COALESCE(MAX(event_timestamp), 0)
		FROM events
		WHERE event_timestamp >= ? AND event_timestamp < ?
	`, start, end).Scan(&stats.TotalToday, &stats.FirstTS, &stats.LastTS)
	if err != nil {
		return nil, fmt.Errorf("count today: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT key_name, COUNT(*) AS cnt
		FROM events
		WHERE event_timestamp >= ? AND event_timestamp < ?
		GROUP BY key_name
		ORDER BY cnt DESC, key_name ASC
		LIMIT ?
	`, start, end, TopKeysLimit)
	if err != nil {
		return nil, fmt.Errorf("top keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kc KeyCount
		if err := rows.Scan(&kc.KeyName, &kc.Count); err != nil {
			return nil, err
		}
		stats.TopKeys = append(stats.TopKeys, kc)
	}

	return stats, rows.Err()
}

// GetKeyboardStats returns all-time counts per key, most frequent first.
func (s *SQLiteStore) GetKeyboardStats(ctx context.Context) ([]KeyCount, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendSQLite, "get_keyboard_stats")

	rows, err := s.keyboardStats.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("keyboard stats: %w", err)
	}
	defer rows.Close()

	counts := []KeyCount{}
	for rows.Next() {
		var kc KeyCount
		if err := rows.Scan(&kc.KeyName, &kc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, kc)
	}
	return counts, rows.Err()
}

// DeleteBefore removes every event with a timestamp before cutoffMs.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoffMs int64) (int64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendSQLite, "delete_before")

	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE event_timestamp < ?", cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	s.logger.Info().Int64("deleted", n).Int64("cutoff_ms", cutoffMs).Msg("deleted old events")
	return n, nil
}

// Close releases all prepared statements. The underlying *sql.DB is NOT
// closed; that is the caller's responsibility.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{s.insertEvent, s.selectEvents, s.keyboardStats}
	for _, stmt := range stmts {
		if stmt != nil {
			stmt.Close()
		}
	}
	return nil
}

// nullString stores an empty window title as NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
