package logsource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewfold/internal/msg"
)

func TestFeed_HistoryThenSyncThenLive(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()

	v1 := msg.MustNew("@a", 1, msg.NewVote("%t", 1))
	v2 := msg.MustNew("@b", 2, msg.NewVote("%t", -1))
	appendAll(t, feed, v1, v2)

	sub := subscribe(t, feed, Filter{Rel: msg.RelVote, Dest: "%t", Live: true})

	history := untilSync(t, sub)
	assert.Equal(t, keys([]*msg.Message{v1, v2}), keys(history))

	v3 := msg.MustNew("@c", 3, msg.NewVote("%t", 1))
	appendAll(t, feed, v3)

	item := next(t, sub)
	require.NoError(t, item.Err)
	assert.False(t, item.Sync)
	assert.Equal(t, v3.Key, item.Msg.Key)
	assert.Equal(t, int64(3), item.Seq)
}

func TestFeed_SyncCarriesHead(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()
	appendAll(t, feed, msg.MustNew("@a", 1, msg.NewVote("%t", 1)))

	sub := subscribe(t, feed, Filter{Type: msg.TypeAbout})
	item := next(t, sub)
	assert.True(t, item.Sync, "no matching history, sync comes first")
	assert.Equal(t, int64(1), item.Seq)
}

func TestFeed_NonLiveEndsAfterSync(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()
	appendAll(t, feed, msg.MustNew("@a", 1, msg.NewVote("%t", 1)))

	sub := subscribe(t, feed, Filter{Type: msg.TypeVote})
	assert.Len(t, untilSync(t, sub), 1)
	assert.NoError(t, expectClosed(t, sub))
}

func TestFeed_FiltersByTypeAuthorRelDest(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()

	about := msg.MustNew("@a", 1, msg.NewAbout("@b", "Bob", ""))
	voteT := msg.MustNew("@a", 2, msg.NewVote("%t", 1))
	voteU := msg.MustNew("@b", 3, msg.NewVote("%u", 1))
	issue := msg.MustNew("@b", 4, msg.NewIssue("%p", "bug"))
	appendAll(t, feed, about, voteT, voteU, issue)

	tests := []struct {
		name   string
		filter Filter
		want   []*msg.Message
	}{
		{"type", Filter{Type: msg.TypeVote}, []*msg.Message{voteT, voteU}},
		{"author", Filter{Author: "@b"}, []*msg.Message{voteU, issue}},
		{"rel", Filter{Rel: msg.RelAbout}, []*msg.Message{about}},
		{"rel+dest", Filter{Rel: msg.RelVote, Dest: "%u"}, []*msg.Message{voteU}},
		{"dest only", Filter{Dest: "%p"}, []*msg.Message{issue}},
		{"everything", Filter{}, []*msg.Message{about, voteT, voteU, issue}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := subscribe(t, feed, tt.filter)
			assert.Equal(t, keys(tt.want), keys(untilSync(t, sub)))
		})
	}
}

func TestFeed_ReverseAndLimit(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()

	var all []*msg.Message
	for i := 1; i <= 5; i++ {
		all = append(all, msg.MustNew("@a", int64(i), msg.NewVote("%t", 1)))
	}
	appendAll(t, feed, all...)

	sub := subscribe(t, feed, Filter{Reverse: true, Limit: 2})
	assert.Equal(t, keys([]*msg.Message{all[4], all[3]}), keys(untilSync(t, sub)))

	sub = subscribe(t, feed, Filter{Limit: 3})
	assert.Equal(t, keys(all[:3]), keys(untilSync(t, sub)))
}

func TestFeed_RejectsInvalidFilters(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()

	for _, f := range []Filter{
		{Reverse: true, Live: true},
		{LiveOnly: true},
		{Limit: -1},
	} {
		_, err := feed.Subscribe(context.Background(), f)
		assert.ErrorIs(t, err, ErrInvalidFilter, "filter %+v", f)
	}
}

func TestFeed_LiveOnlySkipsHistory(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()
	appendAll(t, feed, msg.MustNew("@a", 1, msg.NewVote("%t", 1)))

	sub := subscribe(t, feed, Filter{Live: true, LiveOnly: true})
	assert.Empty(t, untilSync(t, sub))

	live := msg.MustNew("@a", 2, msg.NewVote("%t", -1))
	appendAll(t, feed, live)
	assert.Equal(t, live.Key, next(t, sub).Msg.Key)
}

func TestFeed_CutoverHasNoGapOrDuplicate(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()

	const total = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			m := msg.MustNew("@writer", int64(i), msg.NewVote(fmt.Sprintf("%%t%d", i), 1))
			if _, err := feed.Append(context.Background(), m); err != nil {
				t.Errorf("append: %v", err)
				return
			}
		}
	}()

	// Subscribe while the writer is running.
	time.Sleep(time.Millisecond)
	sub := subscribe(t, feed, Filter{Live: true})

	seen := make(map[int64]bool)
	var last int64
	for len(seen) < total {
		item := next(t, sub)
		require.NoError(t, item.Err)
		if item.Sync {
			continue
		}
		require.False(t, seen[item.Seq], "duplicate seq %d", item.Seq)
		require.Greater(t, item.Seq, last, "out of order")
		seen[item.Seq] = true
		last = item.Seq
	}
	wg.Wait()
	assert.Len(t, seen, total)
}

func TestFeed_ClosingOneSubscriptionLeavesOthers(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()

	a := subscribe(t, feed, Filter{Live: true})
	b := subscribe(t, feed, Filter{Live: true})
	untilSync(t, a)
	untilSync(t, b)

	a.Close()
	assert.NoError(t, expectClosed(t, a))

	m := msg.MustNew("@a", 1, msg.NewVote("%t", 1))
	appendAll(t, feed, m)
	assert.Equal(t, m.Key, next(t, b).Msg.Key)
}

func TestFeed_CloseEndsLiveSubscribers(t *testing.T) {
	feed := NewFeed(NewMemoryLog())

	sub := subscribe(t, feed, Filter{Live: true})
	untilSync(t, sub)

	feed.Close()
	assert.ErrorIs(t, expectClosed(t, sub), ErrClosed)

	_, err := feed.Append(context.Background(), msg.MustNew("@a", 1, msg.NewVote("%t", 1)))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = feed.Subscribe(context.Background(), Filter{Live: true})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFeed_ContextCancelStopsSubscription(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx, Filter{Live: true})
	require.NoError(t, err)
	untilSync(t, sub)

	cancel()
	assert.NoError(t, expectClosed(t, sub), "cancellation is not a transport error")
	sub.Close()
}

func TestFeed_PollPicksUpExternalAppends(t *testing.T) {
	backend := NewMemoryLog()
	feed := NewFeed(backend, WithPollInterval(5*time.Millisecond))
	defer feed.Close()

	sub := subscribe(t, feed, Filter{Live: true})
	untilSync(t, sub)

	m := msg.MustNew("@other-process", 1, msg.NewVote("%t", 1))
	_, err := backend.Append(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, m.Key, next(t, sub).Msg.Key)
}

// failingBackend fails Scan after a configurable number of messages.
type failingBackend struct {
	*MemoryLog
	failAfter int
}

var errTransport = errors.New("transport down")

func (b *failingBackend) Scan(ctx context.Context, after, upTo int64, fn func(int64, *msg.Message) error) error {
	n := 0
	return b.MemoryLog.Scan(ctx, after, upTo, func(seq int64, m *msg.Message) error {
		if n >= b.failAfter {
			return errTransport
		}
		n++
		return fn(seq, m)
	})
}

func TestFeed_TransportErrorEndsStream(t *testing.T) {
	backend := &failingBackend{MemoryLog: NewMemoryLog(), failAfter: 1}
	feed := NewFeed(backend)
	defer feed.Close()
	appendAll(t, feed,
		msg.MustNew("@a", 1, msg.NewVote("%t", 1)),
		msg.MustNew("@a", 2, msg.NewVote("%t", 1)),
	)

	sub := subscribe(t, feed, Filter{Live: true})
	first := next(t, sub)
	require.NotNil(t, first.Msg)

	err := expectClosed(t, sub)
	assert.ErrorIs(t, err, errTransport)
}

func TestFeed_GetActsAsDirectory(t *testing.T) {
	feed := NewFeed(NewMemoryLog())
	defer feed.Close()

	m := msg.MustNew("@a", 1, msg.Content{"type": "git-repo", "name": "viewfold"})
	appendAll(t, feed, m)

	var dir Directory = feed
	got, err := dir.Get(context.Background(), m.Key)
	require.NoError(t, err)
	assert.Equal(t, "viewfold", got.Content.String("name"))

	_, err = dir.Get(context.Background(), "%missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
