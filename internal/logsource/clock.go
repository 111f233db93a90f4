package logsource

import "sync/atomic"

// Clock hands out log sequence numbers.
//
// Sequences are strictly increasing and start at 1. Thread-safety: Clock
// is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
