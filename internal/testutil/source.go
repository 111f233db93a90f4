package testutil

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/msg"
)

// ErrTransport is the error failing subscriptions end with.
var ErrTransport = errors.New("transport down")

// Source wraps a logsource.Source for tests.
//
// Hold picks a gate per filter; deliveries on that subscription wait until
// the gate is closed. Cut picks a switch per filter; once it is closed the
// subscription ends with ErrTransport, after whatever it already
// delivered. While failing, new subscriptions end with ErrTransport before
// delivering anything.
//
// Thread-safety: Source is safe for concurrent use. Hold and Cut must be
// set before the first Subscribe.
type Source struct {
	inner      logsource.Source
	Hold       func(logsource.Filter) <-chan struct{}
	Cut        func(logsource.Filter) <-chan struct{}
	subscribes atomic.Int32
	failing    atomic.Bool
}

// NewSource wraps inner.
func NewSource(inner logsource.Source) *Source {
	return &Source{inner: inner}
}

// Only returns a per-filter picker that applies ch to subscriptions
// matching filter exactly. Use it for Hold or Cut.
func Only(filter logsource.Filter, ch chan struct{}) func(logsource.Filter) <-chan struct{} {
	return func(f logsource.Filter) <-chan struct{} {
		if f == filter {
			return ch
		}
		return nil
	}
}

// HoldAll gates every subscription on gate. A nil gate holds nothing.
func HoldAll(gate chan struct{}) func(logsource.Filter) <-chan struct{} {
	if gate == nil {
		return nil
	}
	return func(logsource.Filter) <-chan struct{} { return gate }
}

// Subscribe implements logsource.Source.
func (s *Source) Subscribe(ctx context.Context, f logsource.Filter) (*logsource.Subscription, error) {
	s.subscribes.Add(1)
	if s.failing.Load() {
		return logsource.Start(ctx, 0, func(context.Context, logsource.Emit) error {
			return ErrTransport
		}), nil
	}

	inner, err := s.inner.Subscribe(ctx, f)
	if err != nil {
		return nil, err
	}
	var gate, cut <-chan struct{}
	if s.Hold != nil {
		gate = s.Hold(f)
	}
	if s.Cut != nil {
		cut = s.Cut(f)
	}
	return logsource.Start(ctx, 0, func(ctx context.Context, emit logsource.Emit) error {
		defer inner.Close()
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for {
			select {
			case item, ok := <-inner.C:
				if !ok {
					return nil
				}
				if !emit(item) {
					return ctx.Err()
				}
			case <-cut:
				return ErrTransport
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

// Subscribes returns how many subscriptions have been opened.
func (s *Source) Subscribes() int32 {
	return s.subscribes.Load()
}

// SetFailing switches failure of new subscriptions on or off.
func (s *Source) SetFailing(failing bool) {
	s.failing.Store(failing)
}

// Appender is the write side of a log.
type Appender interface {
	Append(ctx context.Context, m *msg.Message) (int64, error)
}

// Append builds a message and appends it to log.
func Append(t testing.TB, log Appender, author string, ts int64, content msg.Content) *msg.Message {
	t.Helper()
	m := msg.MustNew(author, ts, content)
	_, err := log.Append(context.Background(), m)
	require.NoError(t, err)
	return m
}
