package logsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewfold/internal/msg"
)

const waitTimeout = 2 * time.Second

// next reads one item or fails the test.
func next(t *testing.T, sub *Subscription) Item {
	t.Helper()
	select {
	case item, ok := <-sub.C:
		require.True(t, ok, "subscription channel closed early")
		return item
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for item")
		return Item{}
	}
}

// untilSync reads history items up to the sync boundary.
func untilSync(t *testing.T, sub *Subscription) []*msg.Message {
	t.Helper()
	var out []*msg.Message
	for {
		item := next(t, sub)
		require.NoError(t, item.Err)
		if item.Sync {
			return out
		}
		out = append(out, item.Msg)
	}
}

// expectClosed waits for the channel to close, returning any error item.
func expectClosed(t *testing.T, sub *Subscription) error {
	t.Helper()
	var last error
	for {
		select {
		case item, ok := <-sub.C:
			if !ok {
				return last
			}
			if item.Err != nil {
				last = item.Err
			}
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for channel close")
			return nil
		}
	}
}

func subscribe(t *testing.T, src Source, f Filter) *Subscription {
	t.Helper()
	sub, err := src.Subscribe(context.Background(), f)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return sub
}

func appendAll(t *testing.T, f *Feed, msgs ...*msg.Message) {
	t.Helper()
	for _, m := range msgs {
		_, err := f.Append(context.Background(), m)
		require.NoError(t, err)
	}
}

func keys(msgs []*msg.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Key
	}
	return out
}
