package buffer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/metmac/internal/storage"
)

var errBoom = errors.New("disk on fire")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingWriter keeps a copy of every batch it accepts. When err is set
// it fails instead; when panicMsg is set it panics.
type recordingWriter struct {
	mu       sync.Mutex
	batches  [][]storage.Event
	calls    int
	err      error
	panicMsg string
}

func (w *recordingWriter) InsertEvents(_ context.Context, events []storage.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.panicMsg != "" {
		panic(w.panicMsg)
	}
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, append([]storage.Event(nil), events...))
	return nil
}

func (w *recordingWriter) setErr(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

func (w *recordingWriter) snapshot() (calls int, batches [][]storage.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls, append([][]storage.Event(nil), w.batches...)
}

func ev(key string) storage.Event {
	return storage.Event{KeyName: key, WindowTitle: "unknown", Timestamp: 1}
}

func newTestBuffer(t *testing.T, w Writer, clock Clock, mutate func(*Config)) *Buffer {
	t.Helper()
	cfg := Config{
		FlushThreshold: 3,
		FlushInterval:  3 * time.Second,
		Clock:          clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	b, err := New(w, cfg)
	require.NoError(t, err)
	return b
}

// --- Construction ---

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"zero threshold", Config{FlushThreshold: 0, FlushInterval: time.Second}, "flush threshold"},
		{"zero interval", Config{FlushThreshold: 1}, "flush interval"},
		{"negative max pending", Config{FlushThreshold: 1, FlushInterval: time.Second, MaxPending: -1}, "max pending"},
		{"max pending below threshold", Config{FlushThreshold: 5, FlushInterval: time.Second, MaxPending: 4}, "at least the flush threshold"},
		{"unknown policy", Config{FlushThreshold: 1, FlushInterval: time.Second, Overflow: "spill"}, "overflow policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&recordingWriter{}, tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := New(nil, Config{FlushThreshold: 1, FlushInterval: time.Second})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	b, err := New(&recordingWriter{}, Config{FlushThreshold: 1, FlushInterval: time.Second})
	require.NoError(t, err)
	assert.Equal(t, DropOldest, b.cfg.Overflow)
	assert.Equal(t, SystemClock, b.cfg.Clock)
}

// --- Threshold trigger ---

func TestPush_ThresholdFlushesExactlyOnce(t *testing.T) {
	w := &recordingWriter{}
	b := newTestBuffer(t, w, newFakeClock(), nil)
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, ev("a")))
	require.NoError(t, b.Push(ctx, ev("b")))
	calls, _ := w.snapshot()
	assert.Equal(t, 0, calls, "below threshold nothing is written")
	assert.Equal(t, 2, b.Len())

	require.NoError(t, b.Push(ctx, ev("c")))

	calls, batches := w.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, [][]storage.Event{{ev("a"), ev("b"), ev("c")}}, batches)
	assert.Equal(t, 0, b.Len())
}

func TestPush_InvalidEventNotBuffered(t *testing.T) {
	b := newTestBuffer(t, &recordingWriter{}, newFakeClock(), nil)

	err := b.Push(context.Background(), storage.Event{KeyName: "  ", Timestamp: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrInvalidEvent))
	assert.Equal(t, 0, b.Len())
}

// --- Interval trigger ---

func TestPush_IntervalTriggersFlush(t *testing.T) {
	w := &recordingWriter{}
	clock := newFakeClock()
	b := newTestBuffer(t, w, clock, func(c *Config) { c.FlushThreshold = 100 })
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, ev("a")))
	assert.False(t, b.ShouldFlush())

	clock.Advance(3 * time.Second)
	assert.True(t, b.ShouldFlush())

	require.NoError(t, b.Push(ctx, ev("b")))
	_, batches := w.snapshot()
	assert.Equal(t, [][]storage.Event{{ev("a"), ev("b")}}, batches)
	assert.False(t, b.ShouldFlush(), "successful flush resets the interval")
}

func TestFlushIfDue(t *testing.T) {
	w := &recordingWriter{}
	clock := newFakeClock()
	b := newTestBuffer(t, w, clock, func(c *Config) { c.FlushThreshold = 100 })
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, ev("a")))
	require.NoError(t, b.FlushIfDue(ctx))
	calls, _ := w.snapshot()
	assert.Equal(t, 0, calls, "not due yet")

	clock.Advance(5 * time.Second)
	require.NoError(t, b.FlushIfDue(ctx))
	_, batches := w.snapshot()
	assert.Equal(t, [][]storage.Event{{ev("a")}}, batches)
}

func TestFlush_EmptyIsNoopAndKeepsInterval(t *testing.T) {
	w := &recordingWriter{}
	clock := newFakeClock()
	b := newTestBuffer(t, w, clock, nil)
	ctx := context.Background()

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Flush(ctx))
	require.NoError(t, b.FlushIfDue(ctx))

	calls, _ := w.snapshot()
	assert.Equal(t, 0, calls)
	assert.True(t, b.ShouldFlush(), "an empty flush does not reset the last flush time")
}

// --- Failure and restore ---

func TestFlush_FailureRestoresBatchInOrder(t *testing.T) {
	w := &recordingWriter{err: errBoom}
	b := newTestBuffer(t, w, newFakeClock(), nil)
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, ev("a")))
	require.NoError(t, b.Push(ctx, ev("b")))
	err := b.Push(ctx, ev("c"))
	require.Error(t, err)

	var fe *FlushError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 3, fe.Size)
	assert.NotEmpty(t, fe.BatchID)
	assert.False(t, fe.Panicked)
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, 3, b.Len(), "nothing lost")

	w.setErr(nil)
	require.NoError(t, b.Flush(ctx))

	_, batches := w.snapshot()
	assert.Equal(t, [][]storage.Event{{ev("a"), ev("b"), ev("c")}}, batches, "retry persists the original batch once")
	assert.Equal(t, 0, b.Len())
}

func TestPush_AfterFailureAccumulatesBehindRestoredBatch(t *testing.T) {
	w := &recordingWriter{err: errBoom}
	b := newTestBuffer(t, w, newFakeClock(), nil)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_ = b.Push(ctx, ev(k))
	}
	require.Equal(t, 3, b.Len())

	w.setErr(nil)
	require.NoError(t, b.Push(ctx, ev("d")))

	_, batches := w.snapshot()
	assert.Equal(t, [][]storage.Event{{ev("a"), ev("b"), ev("c"), ev("d")}}, batches)
}

func TestFlush_FailureDoesNotResetInterval(t *testing.T) {
	w := &recordingWriter{err: errBoom}
	clock := newFakeClock()
	b := newTestBuffer(t, w, clock, func(c *Config) { c.FlushThreshold = 100 })
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, ev("a")))
	clock.Advance(4 * time.Second)
	require.Error(t, b.FlushIfDue(ctx))
	assert.True(t, b.ShouldFlush())
}

func TestFlush_WriterPanicRecovered(t *testing.T) {
	w := &recordingWriter{panicMsg: "database is locked"}
	b := newTestBuffer(t, w, newFakeClock(), nil)
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, ev("a")))

	var err error
	assert.NotPanics(t, func() { err = b.Flush(ctx) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWriterPanic))
	assert.Contains(t, err.Error(), "database is locked")

	var fe *FlushError
	require.True(t, errors.As(err, &fe))
	assert.True(t, fe.Panicked)
	assert.Equal(t, 1, b.Len())
}

// --- Overflow ---

func TestPush_OverflowDropOldest(t *testing.T) {
	w := &recordingWriter{err: errBoom}
	b := newTestBuffer(t, w, newFakeClock(), func(c *Config) {
		c.FlushThreshold = 2
		c.MaxPending = 3
		c.Overflow = DropOldest
	})
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c", "d"} {
		_ = b.Push(ctx, ev(k))
	}
	assert.Equal(t, 3, b.Len())

	w.setErr(nil)
	require.NoError(t, b.Flush(ctx))
	_, batches := w.snapshot()
	assert.Equal(t, [][]storage.Event{{ev("b"), ev("c"), ev("d")}}, batches)
}

func TestPush_OverflowRejectNew(t *testing.T) {
	w := &recordingWriter{err: errBoom}
	b := newTestBuffer(t, w, newFakeClock(), func(c *Config) {
		c.FlushThreshold = 2
		c.MaxPending = 3
		c.Overflow = RejectNew
	})
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_ = b.Push(ctx, ev(k))
	}
	callsBefore, _ := w.snapshot()

	err := b.Push(ctx, ev("d"))
	assert.True(t, errors.Is(err, ErrFull))
	assert.Equal(t, 3, b.Len())

	calls, _ := w.snapshot()
	assert.Equal(t, callsBefore, calls, "a rejected push does not attempt a flush")

	w.setErr(nil)
	require.NoError(t, b.Flush(ctx))
	_, batches := w.snapshot()
	assert.Equal(t, [][]storage.Event{{ev("a"), ev("b"), ev("c")}}, batches)
}

// --- Close ---

func TestClose_FinalFlushThenRejects(t *testing.T) {
	w := &recordingWriter{}
	b := newTestBuffer(t, w, newFakeClock(), func(c *Config) { c.FlushThreshold = 10 })
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, ev("a")))
	require.NoError(t, b.Close(ctx))

	_, batches := w.snapshot()
	assert.Equal(t, [][]storage.Event{{ev("a")}}, batches)

	err := b.Push(ctx, ev("b"))
	assert.True(t, errors.Is(err, ErrClosed))
	assert.NoError(t, b.Close(ctx), "close is idempotent")
}

func TestClose_FailedFinalFlushKeepsEvents(t *testing.T) {
	w := &recordingWriter{err: errBoom}
	b := newTestBuffer(t, w, newFakeClock(), func(c *Config) { c.FlushThreshold = 10 })
	ctx := context.Background()

	require.NoError(t, b.Push(ctx, ev("a")))
	err := b.Close(ctx)
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, 1, b.Len())

	w.setErr(nil)
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 0, b.Len())
}

// --- Run ---

func TestRun_FlushesOnTick(t *testing.T) {
	w := &recordingWriter{}
	clock := newFakeClock()
	b := newTestBuffer(t, w, clock, func(c *Config) { c.FlushThreshold = 100 })
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, b.Push(ctx, ev("a")))
	clock.Advance(time.Minute)

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx, 5*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		_, batches := w.snapshot()
		return len(batches) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

// --- Concurrency ---

func TestPush_ConcurrentProducersLoseNothing(t *testing.T) {
	db, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "data.db"), 2, 5000)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.NewMigrationRunner(db).Run(context.Background()))

	store, err := storage.NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b, err := New(store, Config{FlushThreshold: 30, FlushInterval: time.Hour})
	require.NoError(t, err)

	const producers, perProducer = 8, 250
	ctx := context.Background()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, b.Push(ctx, storage.Event{
					KeyName:   fmt.Sprintf("p%d-%d", p, i),
					Timestamp: int64(i),
				}))
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, b.Close(ctx))

	events, err := store.GetEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, producers*perProducer)

	seen := make(map[string]bool, len(events))
	for _, e := range events {
		assert.False(t, seen[e.KeyName], "duplicate %s", e.KeyName)
		seen[e.KeyName] = true
	}

	// Per-producer order survives batching.
	last := make(map[string]int64)
	for _, e := range events {
		var p, i int
		_, err := fmt.Sscanf(e.KeyName, "p%d-%d", &p, &i)
		require.NoError(t, err)
		prod := fmt.Sprint(p)
		if prev, ok := last[prod]; ok {
			assert.Greater(t, int64(i), prev)
		}
		last[prod] = int64(i)
	}
}
