package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/runnerr0/metmac/internal/log"
	"github.com/runnerr0/metmac/internal/storage"
)

// RawEvent is an event as a capture source emits it. A zero Timestamp is
// stamped on arrival. A nil WindowTitle is looked up with the resolver.
type RawEvent struct {
	KeyName     string  `json:"key_name"`
	Timestamp   int64   `json:"timestamp,omitempty"`
	WindowTitle *string `json:"window_title,omitempty"`
}

// Normalizer turns raw capture output into events fit for the buffer.
type Normalizer struct {
	Resolver WindowResolver
	Denylist *Denylist
	Now      func() time.Time
}

// NewNormalizer returns a Normalizer with the wall clock. A nil resolver
// is replaced with NoWindow.
func NewNormalizer(resolver WindowResolver, denylist *Denylist) *Normalizer {
	if resolver == nil {
		resolver = NoWindow{}
	}
	return &Normalizer{Resolver: resolver, Denylist: denylist, Now: time.Now}
}

// Normalize trims the key name, fills in a missing timestamp and window
// title, and validates the result. A failed window lookup degrades to
// UnknownWindow. Events from a denylisted window return ErrDenylisted.
func (n *Normalizer) Normalize(ctx context.Context, raw RawEvent) (storage.Event, error) {
	ev := storage.Event{
		KeyName:   strings.TrimSpace(raw.KeyName),
		Timestamp: raw.Timestamp,
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = n.now().UnixMilli()
	}

	if raw.WindowTitle != nil {
		ev.WindowTitle = strings.TrimSpace(*raw.WindowTitle)
	} else {
		ev.WindowTitle = n.resolve(ctx)
	}
	if ev.WindowTitle == "" {
		ev.WindowTitle = UnknownWindow
	}

	if err := ev.Validate(); err != nil {
		return storage.Event{}, err
	}
	if n.Denylist.Match(ev.WindowTitle) {
		return storage.Event{}, ErrDenylisted
	}
	return ev, nil
}

func (n *Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n *Normalizer) resolve(ctx context.Context) string {
	if n.Resolver == nil {
		return UnknownWindow
	}
	title, err := n.Resolver.ActiveWindow(ctx)
	if err != nil {
		logger := log.WithComponent("ingest")
		logger.Debug().Err(err).Msg("window lookup failed")
		return UnknownWindow
	}
	return title
}
