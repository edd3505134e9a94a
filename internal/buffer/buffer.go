// Package buffer accumulates events in memory and writes them to a store
// in batches. A batch is written when the pending count reaches a
// threshold or when the flush interval has elapsed since the last
// successful flush, whichever comes first.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnerr0/metmac/internal/log"
	"github.com/runnerr0/metmac/internal/metrics"
	"github.com/runnerr0/metmac/internal/storage"
)

var tracer = otel.Tracer("github.com/runnerr0/metmac/internal/buffer")

// Writer persists a batch atomically.
type Writer interface {
	InsertEvents(ctx context.Context, events []storage.Event) error
}

// OverflowPolicy decides what Push does when MaxPending is reached.
type OverflowPolicy string

const (
	DropOldest OverflowPolicy = "drop_oldest"
	RejectNew  OverflowPolicy = "reject_new"
)

// Config holds buffer policy. FlushThreshold and FlushInterval are
// required. MaxPending 0 leaves the buffer unbounded.
type Config struct {
	FlushThreshold int
	FlushInterval  time.Duration
	MaxPending     int
	Overflow       OverflowPolicy
	Clock          Clock
}

func (c *Config) validate() error {
	if c.FlushThreshold < 1 {
		return fmt.Errorf("flush threshold must be at least 1, got %d", c.FlushThreshold)
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive, got %s", c.FlushInterval)
	}
	if c.MaxPending < 0 {
		return fmt.Errorf("max pending must not be negative, got %d", c.MaxPending)
	}
	if c.MaxPending > 0 && c.MaxPending < c.FlushThreshold {
		return fmt.Errorf("max pending (%d) must be at least the flush threshold (%d)", c.MaxPending, c.FlushThreshold)
	}
	switch c.Overflow {
	case "":
		c.Overflow = DropOldest
	case DropOldest, RejectNew:
	default:
		return fmt.Errorf("unknown overflow policy %q", c.Overflow)
	}
	if c.Clock == nil {
		c.Clock = SystemClock
	}
	return nil
}

// Buffer is safe for concurrent use. One mutex serializes Push, the
// trigger check and Flush, so at most one flush is in flight and a failed
// batch is restored before any later push is appended.
type Buffer struct {
	w      Writer
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	pending   []storage.Event
	lastFlush time.Time
	closed    bool
}

// New creates a Buffer that flushes into w.
func New(w Writer, cfg Config) (*Buffer, error) {
	if w == nil {
		return nil, errors.New("buffer: nil writer")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("buffer: %w", err)
	}

	return &Buffer{
		w:         w,
		cfg:       cfg,
		logger:    log.WithComponent("buffer"),
		pending:   make([]storage.Event, 0, cfg.FlushThreshold),
		lastFlush: cfg.Clock.Now(),
	}, nil
}

// Push validates ev and appends it, then flushes if a trigger fires. A
// flush error is returned with ev still buffered; the caller need not
// push it again.
func (b *Buffer) Push(ctx context.Context, ev storage.Event) error {
	if err := ev.Validate(); err != nil {
		metrics.EventsRejected.WithLabelValues("invalid").Inc()
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		metrics.EventsRejected.WithLabelValues("closed").Inc()
		return ErrClosed
	}

	if b.cfg.MaxPending > 0 && len(b.pending) >= b.cfg.MaxPending {
		if b.cfg.Overflow == RejectNew {
			metrics.EventsRejected.WithLabelValues("full").Inc()
			return ErrFull
		}
		n := len(b.pending) - b.cfg.MaxPending + 1
		b.pending = append(b.pending[:0], b.pending[n:]...)
		metrics.EventsDropped.Add(float64(n))
		b.logger.Warn().Int("dropped", n).Int("max_pending", b.cfg.MaxPending).Msg("buffer full, dropped oldest events")
	}

	b.pending = append(b.pending, ev)
	metrics.EventsPushed.Inc()
	metrics.PendingEvents.Set(float64(len(b.pending)))

	if b.shouldFlushLocked() {
		return b.flushLocked(ctx)
	}
	return nil
}

// ShouldFlush reports whether either trigger has fired.
func (b *Buffer) ShouldFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.shouldFlushLocked()
}

func (b *Buffer) shouldFlushLocked() bool {
	if len(b.pending) >= b.cfg.FlushThreshold {
		return true
	}
	return b.cfg.Clock.Now().Sub(b.lastFlush) >= b.cfg.FlushInterval
}

// Flush writes every pending event as one batch. Flushing an empty buffer
// does nothing and leaves the interval timer alone.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

// FlushIfDue flushes only when a trigger has fired. It is meant for a
// periodic timer so that a quiet producer still gets its events written.
func (b *Buffer) FlushIfDue(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 || !b.shouldFlushLocked() {
		return nil
	}
	return b.flushLocked(ctx)
}

// Len returns the number of pending events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close rejects further pushes and makes one last flush attempt. If that
// attempt fails the events remain in memory and Flush may be retried.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		b.logger.Debug().Int("pending", len(b.pending)).Msg("closing buffer")
	}
	return b.flushLocked(ctx)
}

// Run calls FlushIfDue every interval until ctx is done. Flush errors are
// logged and the next tick tries again.
func (b *Buffer) Run(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.FlushIfDue(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn().Err(err).Msg("periodic flush failed")
			}
		}
	}
}

func (b *Buffer) flushLocked(ctx context.Context) (err error) {
	if len(b.pending) == 0 {
		return nil
	}

	batch := b.pending
	b.pending = make([]storage.Event, 0, b.cfg.FlushThreshold)
	batchID := uuid.NewString()

	ctx, span := tracer.Start(ctx, "buffer.flush", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.size", len(batch)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := b.logger.With().Str("batch_id", batchID).Int("size", len(batch)).Logger()
	metrics.FlushBatchSize.Observe(float64(len(batch)))
	timer := metrics.NewTimer()

	panicked, werr := b.write(ctx, batch)
	timer.ObserveDuration(metrics.FlushDuration)

	if werr != nil {
		b.pending = append(batch, b.pending...)
		metrics.PendingEvents.Set(float64(len(b.pending)))

		if panicked {
			metrics.FlushesTotal.WithLabelValues("panic").Inc()
			logger.Error().Err(werr).Msg("writer panicked during flush, batch restored")
		} else {
			metrics.FlushesTotal.WithLabelValues("error").Inc()
			logger.Warn().Err(werr).Msg("flush failed, batch restored")
		}
		return &FlushError{BatchID: batchID, Size: len(batch), Panicked: panicked, Err: werr}
	}

	b.lastFlush = b.cfg.Clock.Now()
	metrics.FlushesTotal.WithLabelValues("success").Inc()
	metrics.PendingEvents.Set(float64(len(b.pending)))
	logger.Debug().Dur("took", timer.Duration()).Msg("flushed batch")
	return nil
}

// write calls the writer, converting a panic into ErrWriterPanic.
func (b *Buffer) write(ctx context.Context, batch []storage.Event) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("%w: %v", ErrWriterPanic, r)
		}
	}()
	return false, b.w.InsertEvents(ctx, batch)
}
