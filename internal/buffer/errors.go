package buffer

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("buffer closed")

	// ErrFull is returned by Push when MaxPending is reached under the
	// reject_new policy.
	ErrFull = errors.New("buffer full")

	// ErrWriterPanic marks a flush whose writer panicked. The batch is
	// restored exactly as for an ordinary write failure.
	ErrWriterPanic = errors.New("writer panicked")
)

// FlushError reports a failed flush. The batch it describes is back in the
// buffer when the error is returned.
type FlushError struct {
	BatchID  string
	Size     int
	Panicked bool
	Err      error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush batch %s (%d events): %v", e.BatchID, e.Size, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}
