package logsource

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/viewfold/internal/msg"
)

var (
	// ErrInvalidFilter is returned by Subscribe for contradictory filters.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrClosed is returned after the feed has been closed.
	ErrClosed = errors.New("log source closed")

	// ErrNotFound is returned by Get for unknown keys.
	ErrNotFound = errors.New("message not found")
)

// Source is the subscription side of the log.
type Source interface {
	Subscribe(ctx context.Context, f Filter) (*Subscription, error)
}

// Directory looks up a single raw message by key.
type Directory interface {
	Get(ctx context.Context, key string) (*msg.Message, error)
}

// Filter selects messages for a subscription. Empty string fields match
// anything. Rel and Dest match against the message's content links.
type Filter struct {
	Type   string
	Rel    string
	Dest   string
	Author string

	// Live keeps the subscription open after the sync item.
	Live bool
	// LiveOnly skips history; the sync item is delivered first.
	LiveOnly bool
	// Reverse delivers history newest first. Not valid with Live.
	Reverse bool
	// Limit caps the number of historical messages (0 = unlimited).
	Limit int
}

// Validate rejects contradictory filters.
func (f Filter) Validate() error {
	if f.Reverse && f.Live {
		return fmt.Errorf("%w: reverse with live", ErrInvalidFilter)
	}
	if f.LiveOnly && !f.Live {
		return fmt.Errorf("%w: live-only without live", ErrInvalidFilter)
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidFilter, f.Limit)
	}
	return nil
}

// Matches reports whether m is selected by the filter.
func (f Filter) Matches(m *msg.Message) bool {
	if m == nil {
		return false
	}
	if f.Type != "" && m.Type() != f.Type {
		return false
	}
	if f.Author != "" && m.Author != f.Author {
		return false
	}
	if f.Rel != "" || f.Dest != "" {
		return m.Content.HasLink(f.Rel, f.Dest)
	}
	return true
}

// String renders the filter for logs.
func (f Filter) String() string {
	return fmt.Sprintf("type=%q rel=%q dest=%q author=%q live=%t", f.Type, f.Rel, f.Dest, f.Author, f.Live)
}

// Item is one delivery on a subscription channel: a message, the sync
// boundary, or a terminal transport error.
type Item struct {
	Seq  int64
	Msg  *msg.Message
	Sync bool
	Err  error
}
