package logsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/viewfold/internal/msg"
)

// Backend is the storage side of the log. Sequences start at 1 and
// strictly increase in append order.
type Backend interface {
	// Append stores m and returns its sequence. Appending a key that is
	// already present returns the existing sequence.
	Append(ctx context.Context, m *msg.Message) (int64, error)
	// Head returns the highest assigned sequence (0 when empty).
	Head(ctx context.Context) (int64, error)
	// Scan calls fn for every message with after < seq <= upTo, ascending.
	// An error from fn stops the scan and is returned unchanged.
	Scan(ctx context.Context, after, upTo int64, fn func(seq int64, m *msg.Message) error) error
	// Get returns the message with the given key or ErrNotFound.
	Get(ctx context.Context, key string) (*msg.Message, error)
}

// LinkScanner is implemented by backends that index content links and can
// narrow a scan to messages linking to dest.
type LinkScanner interface {
	ScanLinks(ctx context.Context, rel, dest string, after, upTo int64, fn func(seq int64, m *msg.Message) error) error
}

// errStopScan ends a Scan early without reporting an error.
var errStopScan = errors.New("stop scan")

// Feed turns a Backend into a Source with live tailing.
//
// Appends made through the Feed wake live subscribers immediately. Appends
// made to the backend by other writers are picked up on the next poll when
// WithPollInterval is set.
type Feed struct {
	backend      Backend
	logger       *slog.Logger
	buffer       int
	pollInterval time.Duration

	mu      sync.Mutex
	signals map[chan struct{}]struct{}
	closed  bool
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithLogger sets the feed logger.
func WithLogger(l *slog.Logger) FeedOption {
	return func(f *Feed) {
		f.logger = l
	}
}

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) FeedOption {
	return func(f *Feed) {
		f.buffer = n
	}
}

// WithPollInterval makes live subscribers re-check the backend head
// periodically, for backends written by other processes.
func WithPollInterval(d time.Duration) FeedOption {
	return func(f *Feed) {
		f.pollInterval = d
	}
}

// NewFeed wraps backend.
func NewFeed(backend Backend, opts ...FeedOption) *Feed {
	f := &Feed{
		backend: backend,
		logger:  slog.Default(),
		buffer:  DefaultBuffer,
		signals: make(map[chan struct{}]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Append writes m to the backend and wakes live subscribers.
func (f *Feed) Append(ctx context.Context, m *msg.Message) (int64, error) {
	if m == nil || m.Key == "" {
		return 0, fmt.Errorf("append: message without key")
	}

	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, fmt.Errorf("append %s: %w", m.Key, ErrClosed)
	}

	seq, err := f.backend.Append(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", m.Key, err)
	}

	f.notify()
	return seq, nil
}

// Get implements Directory.
func (f *Feed) Get(ctx context.Context, key string) (*msg.Message, error) {
	return f.backend.Get(ctx, key)
}

// Subscribe implements Source.
func (f *Feed) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	// Register for wake-ups before the head snapshot so no append between
	// the two can be missed.
	var signal chan struct{}
	if filter.Live {
		var err error
		if signal, err = f.register(); err != nil {
			return nil, err
		}
	} else if f.isClosed() {
		return nil, ErrClosed
	}

	sub := Start(ctx, f.buffer, func(ctx context.Context, emit Emit) error {
		if signal != nil {
			defer f.unregister(signal)
		}

		head, err := f.backend.Head(ctx)
		if err != nil {
			return fmt.Errorf("read head: %w", err)
		}

		if !filter.LiveOnly {
			if err := f.replay(ctx, filter, head, emit); err != nil {
				return err
			}
		}

		if !emit(Item{Seq: head, Sync: true}) {
			return ctx.Err()
		}
		if !filter.Live {
			return nil
		}

		return f.tail(ctx, filter, head, signal, emit)
	})

	f.logger.Debug("subscription started", "id", sub.ID, "filter", filter.String())
	return sub, nil
}

// Close ends every live subscription with ErrClosed and rejects further
// appends and subscriptions.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for signal := range f.signals {
		close(signal)
	}
	f.signals = make(map[chan struct{}]struct{})
}

// replay delivers history up to and including head.
func (f *Feed) replay(ctx context.Context, filter Filter, head int64, emit Emit) error {
	if filter.Reverse {
		var items []Item
		err := f.scan(ctx, filter, 0, head, func(seq int64, m *msg.Message) error {
			if filter.Matches(m) {
				items = append(items, Item{Seq: seq, Msg: m})
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}

		delivered := 0
		for i := len(items) - 1; i >= 0; i-- {
			if filter.Limit > 0 && delivered >= filter.Limit {
				break
			}
			if !emit(items[i]) {
				return ctx.Err()
			}
			delivered++
		}
		return nil
	}

	delivered := 0
	err := f.scan(ctx, filter, 0, head, func(seq int64, m *msg.Message) error {
		if !filter.Matches(m) {
			return nil
		}
		if !emit(Item{Seq: seq, Msg: m}) {
			return ctx.Err()
		}
		delivered++
		if filter.Limit > 0 && delivered >= filter.Limit {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}

// tail delivers messages appended after last until cancelled or closed.
func (f *Feed) tail(ctx context.Context, filter Filter, last int64, signal <-chan struct{}, emit Emit) error {
	var tick <-chan time.Time
	if f.pollInterval > 0 {
		ticker := time.NewTicker(f.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-signal:
			if !ok {
				return ErrClosed
			}
		case <-tick:
		}

		next, err := f.backend.Head(ctx)
		if err != nil {
			return fmt.Errorf("live: read head: %w", err)
		}
		if next <= last {
			continue
		}

		err = f.scan(ctx, filter, last, next, func(seq int64, m *msg.Message) error {
			if !filter.Matches(m) {
				return nil
			}
			if !emit(Item{Seq: seq, Msg: m}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("live: %w", err)
		}
		last = next
	}
}

// scan uses the backend's link index when the filter names a destination.
func (f *Feed) scan(ctx context.Context, filter Filter, after, upTo int64, fn func(int64, *msg.Message) error) error {
	if ls, ok := f.backend.(LinkScanner); ok && filter.Dest != "" {
		return ls.ScanLinks(ctx, filter.Rel, filter.Dest, after, upTo, fn)
	}
	return f.backend.Scan(ctx, after, upTo, fn)
}

// register adds a coalescing wake-up channel (buffer 1).
func (f *Feed) register() (chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}
	signal := make(chan struct{}, 1)
	f.signals[signal] = struct{}{}
	return signal, nil
}

func (f *Feed) unregister(signal chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.signals, signal)
}

// notify wakes every live subscriber without blocking; pending wake-ups
// coalesce.
func (f *Feed) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for signal := range f.signals {
		select {
		case signal <- struct{}{}:
		default:
		}
	}
}

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
