package logsource

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/viewfold/internal/msg"
)

// MemoryLog is an in-process Backend. Messages are held for the process
// lifetime.
type MemoryLog struct {
	mu       sync.RWMutex
	clock    *Clock
	messages []*msg.Message // index i holds seq i+1
	byKey    map[string]int64
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		clock: NewClock(),
		byKey: make(map[string]int64),
	}
}

// Append implements Backend. Duplicate keys are ignored and report the
// original sequence.
func (l *MemoryLog) Append(ctx context.Context, m *msg.Message) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m == nil || m.Key == "" {
		return 0, fmt.Errorf("memory log: message without key")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if seq, ok := l.byKey[m.Key]; ok {
		return seq, nil
	}
	seq := l.clock.Next()
	l.messages = append(l.messages, m)
	l.byKey[m.Key] = seq
	return seq, nil
}

// Head implements Backend.
func (l *MemoryLog) Head(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.clock.Current(), nil
}

// Scan implements Backend. The range is copied under the read lock so fn
// may append to the same log without deadlocking.
func (l *MemoryLog) Scan(ctx context.Context, after, upTo int64, fn func(seq int64, m *msg.Message) error) error {
	l.mu.RLock()
	if upTo > int64(len(l.messages)) {
		upTo = int64(len(l.messages))
	}
	if after < 0 {
		after = 0
	}
	var window []*msg.Message
	if after < upTo {
		window = append(window, l.messages[after:upTo]...)
	}
	l.mu.RUnlock()

	for i, m := range window {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(after+int64(i)+1, m); err != nil {
			return err
		}
	}
	return nil
}

// Get implements Backend.
func (l *MemoryLog) Get(ctx context.Context, key string) (*msg.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	seq, ok := l.byKey[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return l.messages[seq-1], nil
}

// Len returns the number of stored messages.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
