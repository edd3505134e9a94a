package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnerr0/metmac/internal/log"
	"github.com/runnerr0/metmac/internal/metrics"
)

const backendBolt = "bolt"

var (
	// Bucket names
	bucketEvents     = []byte("events")
	bucketMigrations = []byte("schema_migrations")
)

type boltMigration struct {
	Version int
	Name    string
	Apply   func(tx *bolt.Tx) error
}

var boltMigrations = []boltMigration{
	{Version: 1, Name: "create_events", Apply: func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	}},
}

type boltMigrationRecord struct {
	Version   int       `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// BoltStore implements Store using BoltDB. Each InsertEvents call is one
// read-write bolt transaction; aggregates are computed in memory.
type BoltStore struct {
	db     *bolt.DB
	opts   options
	logger zerolog.Logger
}

// NewBoltStore opens (creating if needed) the bolt file at path and applies
// any pending bucket migrations.
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &BoltStore{
		db:     db,
		opts:   newOptions(opts),
		logger: log.WithComponent("storage").With().Str("backend", backendBolt).Logger(),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ledger, err := tx.CreateBucketIfNotExists(bucketMigrations)
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketMigrations, err)
		}

		for _, m := range boltMigrations {
			if ledger.Get([]byte(m.Name)) != nil {
				continue
			}
			if err := m.Apply(tx); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
			}
			rec, err := json.Marshal(boltMigrationRecord{Version: m.Version, AppliedAt: time.Now().UTC()})
			if err != nil {
				return err
			}
			if err := ledger.Put([]byte(m.Name), rec); err != nil {
				return fmt.Errorf("record migration: %w", err)
			}
			s.logger.Info().Str("migration", m.Name).Msg("applied migration")
		}
		return nil
	})
}

// InsertEvents appends the batch under one bolt transaction. Returning an
// error from the update closure discards every Put made so far.
func (s *BoltStore) InsertEvents(ctx context.Context, events []Event) (err error) {
	if len(events) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "storage.insert_events", trace.WithAttributes(
		attribute.String("backend", backendBolt),
		attribute.Int("batch.size", len(events)),
	))
	defer func() { finishSpan(span, err) }()

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendBolt, "insert_events")

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return fmt.Errorf("%w: missing bucket %s", ErrSchemaNotMigrated, bucketEvents)
		}
		for i, e := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := e.Validate(); err != nil {
				return fmt.Errorf("event %d: %w", i, err)
			}
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("next sequence: %w", err)
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode event %d: %w", i, err)
			}
			if err := b.Put(itob(seq), data); err != nil {
				return fmt.Errorf("insert event %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return boltErr(err)
	}

	metrics.EventsPersisted.WithLabelValues(backendBolt).Add(float64(len(events)))
	return nil
}

// GetEvents returns every stored event in sequence order.
func (s *BoltStore) GetEvents(ctx context.Context) ([]Event, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendBolt, "get_events")

	var events []Event
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		events, err = scanBolt(tx)
		return err
	})
	if err != nil {
		return nil, boltErr(err)
	}
	return events, nil
}

// GetStats summarizes today's events from a single read transaction.
func (s *BoltStore) GetStats(ctx context.Context) (*DashboardStats, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendBolt, "get_stats")

	events, err := s.GetEvents(ctx)
	if err != nil {
		return nil, err
	}
	start, end := DayBounds(s.opts.now(), s.opts.loc)
	return Summarize(events, start, end, TopKeysLimit), nil
}

// GetKeyboardStats returns all-time counts per key, most frequent first.
func (s *BoltStore) GetKeyboardStats(ctx context.Context) ([]KeyCount, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendBolt, "get_keyboard_stats")

	events, err := s.GetEvents(ctx)
	if err != nil {
		return nil, err
	}
	return CountKeys(events), nil
}

// DeleteBefore removes every event with a timestamp before cutoffMs.
func (s *BoltStore) DeleteBefore(ctx context.Context, cutoffMs int64) (int64, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.StoreQueryDuration, backendBolt, "delete_before")

	var deleted int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return fmt.Errorf("%w: missing bucket %s", ErrSchemaNotMigrated, bucketEvents)
		}

		// Deleting while iterating with ForEach is not allowed.
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			if e.Timestamp < cutoffMs {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = int64(len(stale))
		return nil
	})
	if err != nil {
		return 0, boltErr(err)
	}
	s.logger.Info().Int64("deleted", deleted).Int64("cutoff_ms", cutoffMs).Msg("deleted old events")
	return deleted, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func scanBolt(tx *bolt.Tx) ([]Event, error) {
	b := tx.Bucket(bucketEvents)
	if b == nil {
		return nil, fmt.Errorf("%w: missing bucket %s", ErrSchemaNotMigrated, bucketEvents)
	}
	events := []Event{}
	err := b.ForEach(func(k, v []byte) error {
		var e Event
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("decode event %d: %w", binary.BigEndian.Uint64(k), err)
		}
		events = append(events, e)
		return nil
	})
	return events, err
}

// itob encodes a sequence number so that byte order matches numeric order.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func boltErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %v", ErrStoreClosed, err)
	}
	return err
}
