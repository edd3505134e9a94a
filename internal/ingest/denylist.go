package ingest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrDenylisted is returned by Normalize for events typed into a window
// that must never be recorded.
var ErrDenylisted = errors.New("window is denylisted")

// Denylist matches window titles against case-insensitive substrings and
// regular expressions.
type Denylist struct {
	substrings []string
	patterns   []*regexp.Regexp
}

// NewDenylist compiles a denylist. Blank substrings are ignored.
func NewDenylist(substrings, patterns []string) (*Denylist, error) {
	d := &Denylist{}
	for _, s := range substrings {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			d.substrings = append(d.substrings, s)
		}
	}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("denylist pattern %q: %w", p, err)
		}
		d.patterns = append(d.patterns, re)
	}
	return d, nil
}

// Match reports whether title is denylisted. A nil Denylist matches
// nothing.
func (d *Denylist) Match(title string) bool {
	if d == nil || title == "" {
		return false
	}
	lower := strings.ToLower(title)
	for _, s := range d.substrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, re := range d.patterns {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}
