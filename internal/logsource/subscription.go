package logsource

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/viewfold/internal/metrics"
)

// DefaultBuffer is the channel capacity of a subscription.
const DefaultBuffer = 64

// Emit hands one item to the subscriber. It returns false once the
// subscription is cancelled; producers must stop at that point.
type Emit func(Item) bool

// ProduceFunc fills a subscription. A non-nil error that is not a context
// error is delivered to the subscriber as a final Item with Err set.
type ProduceFunc func(ctx context.Context, emit Emit) error

// Subscription is one running producer goroutine and its channel.
//
// Thread-safety model:
//   - C: read by exactly one consumer
//   - Close(): safe from any goroutine, idempotent
type Subscription struct {
	ID string
	C  <-chan Item

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start launches produce in its own goroutine. The channel is closed when
// produce returns.
func Start(ctx context.Context, buffer int, produce ProduceFunc) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Item, buffer)
	sub := &Subscription{
		ID:     uuid.Must(uuid.NewV7()).String(),
		C:      ch,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	emit := func(item Item) bool {
		select {
		case ch <- item:
			return true
		case <-ctx.Done():
			return false
		}
	}

	metrics.Subscriptions.Inc()
	go func() {
		defer close(sub.done)
		defer close(ch)
		defer metrics.Subscriptions.Dec()

		err := produce(ctx, emit)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			emit(Item{Err: err})
		}
	}()

	return sub
}

// Close cancels the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Done is closed once the producer goroutine has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
