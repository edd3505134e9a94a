// Package ingest is the producer side of metmac. It reads captured key
// events as JSON lines, normalizes them, and pushes them into the buffer.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/runnerr0/metmac/internal/buffer"
	"github.com/runnerr0/metmac/internal/log"
	"github.com/runnerr0/metmac/internal/metrics"
	"github.com/runnerr0/metmac/internal/storage"
)

// maxLineBytes bounds a single JSON line.
const maxLineBytes = 64 * 1024

// Pusher accepts normalized events. *buffer.Buffer satisfies it.
type Pusher interface {
	Push(ctx context.Context, ev storage.Event) error
}

// Result counts what Consume did with its input.
type Result struct {
	Lines       int `json:"lines"`
	Accepted    int `json:"accepted"`
	Rejected    int `json:"rejected"`
	Filtered    int `json:"filtered"`
	FlushErrors int `json:"flush_errors"`
}

// Consumer reads newline-delimited JSON events and pushes them. Its running
// Result can be read while Run is still in progress.
type Consumer struct {
	pusher     Pusher
	normalizer *Normalizer
	logger     zerolog.Logger

	mu  sync.Mutex
	res Result
}

// NewConsumer returns a Consumer that normalizes with n and pushes into p.
func NewConsumer(p Pusher, n *Normalizer) *Consumer {
	return &Consumer{
		pusher:     p,
		normalizer: n,
		logger:     log.WithComponent("ingest"),
	}
}

// Result returns a snapshot of the counts so far.
func (c *Consumer) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

func (c *Consumer) update(fn func(*Result)) {
	c.mu.Lock()
	fn(&c.res)
	c.mu.Unlock()
}

// Consume reads newline-delimited JSON events from r until EOF, ctx is
// done, or p reports that it is closed. Malformed or invalid lines are
// counted and skipped. An accepted event whose push triggered a failed
// flush still counts as accepted; the buffer keeps it.
func Consume(ctx context.Context, r io.Reader, p Pusher, n *Normalizer) (Result, error) {
	return NewConsumer(p, n).Run(ctx, r)
}

// Run consumes r. Lines longer than maxLineBytes are rejected as malformed
// and skipped up to the next newline.
func (c *Consumer) Run(ctx context.Context, r io.Reader) (Result, error) {
	br := bufio.NewReaderSize(r, 4096)

	for {
		raw, tooLong, readErr := readLine(br, maxLineBytes)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return c.Result(), readErr
		}
		if err := ctx.Err(); err != nil {
			return c.Result(), err
		}

		if err := c.handle(ctx, raw, tooLong); err != nil {
			return c.Result(), err
		}

		if readErr != nil {
			break
		}
	}
	return c.Result(), ctx.Err()
}

// handle processes one line. It returns an error only when consumption
// must stop.
func (c *Consumer) handle(ctx context.Context, raw []byte, tooLong bool) error {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 && !tooLong {
		return nil
	}

	var lineNo int
	c.update(func(r *Result) { r.Lines++; lineNo = r.Lines })

	if tooLong {
		c.update(func(r *Result) { r.Rejected++ })
		metrics.EventsRejected.WithLabelValues("malformed").Inc()
		c.logger.Warn().Int("line", lineNo).Int("max_bytes", maxLineBytes).Msg("skipping oversized event")
		return nil
	}

	var ev RawEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		c.update(func(r *Result) { r.Rejected++ })
		metrics.EventsRejected.WithLabelValues("malformed").Inc()
		c.logger.Warn().Err(err).Int("line", lineNo).Msg("skipping malformed event")
		return nil
	}

	normalized, err := c.normalizer.Normalize(ctx, ev)
	if errors.Is(err, ErrDenylisted) {
		c.update(func(r *Result) { r.Filtered++ })
		metrics.EventsRejected.WithLabelValues("denylisted").Inc()
		return nil
	}
	if err != nil {
		c.update(func(r *Result) { r.Rejected++ })
		metrics.EventsRejected.WithLabelValues("invalid").Inc()
		c.logger.Warn().Err(err).Int("line", lineNo).Msg("skipping invalid event")
		return nil
	}

	err = c.pusher.Push(ctx, normalized)
	var flushErr *buffer.FlushError
	switch {
	case err == nil:
		c.update(func(r *Result) { r.Accepted++ })
	case errors.As(err, &flushErr):
		c.update(func(r *Result) { r.Accepted++; r.FlushErrors++ })
		c.logger.Warn().Err(err).Msg("flush failed, events kept in buffer")
	case errors.Is(err, buffer.ErrFull), errors.Is(err, storage.ErrInvalidEvent):
		c.update(func(r *Result) { r.Rejected++ })
	default:
		return err
	}
	return nil
}

// readLine returns the next line without its size capped by the reader's
// buffer. When the line exceeds max bytes the rest of it is discarded and
// tooLong is set. err is io.EOF on the final, possibly empty, line.
func readLine(br *bufio.Reader, max int) (line []byte, tooLong bool, err error) {
	for {
		chunk, rerr := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(bytes.TrimRight(chunk, "\r\n")) > max {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(rerr, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, rerr
	}
}
