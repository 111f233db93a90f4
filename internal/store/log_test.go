package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/msg"
)

// Compile-time interface checks.
var (
	_ logsource.Backend     = (*Store)(nil)
	_ logsource.LinkScanner = (*Store)(nil)
)

func TestAppend_AssignsIncreasingSeq(t *testing.T) {
	s := createTestStore(t)

	seq1 := mustAppend(t, s, msg.MustNew("@a", 1, msg.NewVote("%t", 1)))
	seq2 := mustAppend(t, s, msg.MustNew("@a", 2, msg.NewVote("%t", -1)))

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)

	head, err := s.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), head)
}

func TestAppend_DuplicateKeyIsNoop(t *testing.T) {
	s := createTestStore(t)
	m := msg.MustNew("@a", 1, msg.NewVote("%t", 1))

	first := mustAppend(t, s, m)
	again := mustAppend(t, s, m)
	assert.Equal(t, first, again)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var links int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM links`).Scan(&links))
	assert.Equal(t, 1, links, "links are not duplicated")
}

func TestAppend_RejectsKeyless(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Append(context.Background(), &msg.Message{Author: "@a"})
	assert.Error(t, err)
}

func TestGet_RoundTripsContent(t *testing.T) {
	s := createTestStore(t)
	m := msg.MustNew("@a", 42, msg.NewAbout("@b", "Bob", "&img.sha256"))
	mustAppend(t, s, m)

	got, err := s.Get(context.Background(), m.Key)
	require.NoError(t, err)
	assert.Equal(t, m.Key, got.Key)
	assert.Equal(t, m.Author, got.Author)
	assert.Equal(t, int64(42), got.Timestamp)

	about, ok := got.Content.About()
	require.True(t, ok)
	assert.Equal(t, msg.About{About: "@b", Name: "Bob", Image: "&img.sha256"}, about)

	// The stored content re-derives the same key.
	key, err := msg.Key(got.Author, got.Timestamp, got.Content)
	require.NoError(t, err)
	assert.Equal(t, m.Key, key)
}

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Get(context.Background(), "%missing")
	assert.ErrorIs(t, err, logsource.ErrNotFound)
}

func TestScan_RangeAndBatching(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	total := scanBatch*2 + 3
	var want []string
	for i := 0; i < total; i++ {
		m := msg.MustNew("@a", int64(i), msg.NewVote(fmt.Sprintf("%%t%d", i), 1))
		mustAppend(t, s, m)
		want = append(want, m.Key)
	}

	got := collect(t, func(fn func(int64, *msg.Message) error) error {
		return s.Scan(ctx, 0, int64(total), fn)
	})
	assert.Equal(t, want, got, "all batches in seq order")

	got = collect(t, func(fn func(int64, *msg.Message) error) error {
		return s.Scan(ctx, 2, 5, fn)
	})
	assert.Equal(t, want[2:5], got)
}

func TestScan_CallbackMayWrite(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustAppend(t, s, msg.MustNew("@a", 1, msg.NewVote("%t", 1)))

	err := s.Scan(ctx, 0, 1, func(int64, *msg.Message) error {
		_, err := s.Append(ctx, msg.MustNew("@a", 2, msg.NewVote("%t", 1)))
		return err
	})
	require.NoError(t, err)
}

func TestScan_StopsOnCallbackError(t *testing.T) {
	s := createTestStore(t)
	for i := 0; i < 3; i++ {
		mustAppend(t, s, msg.MustNew("@a", int64(i), msg.NewVote("%t", 1)))
	}

	stop := errors.New("stop")
	calls := 0
	err := s.Scan(context.Background(), 0, 3, func(int64, *msg.Message) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestScanLinks(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	voteT := msg.MustNew("@a", 1, msg.NewVote("%t", 1))
	voteU := msg.MustNew("@a", 2, msg.NewVote("%u", 1))
	aboutT := msg.MustNew("@a", 3, msg.NewAbout("%t", "T", ""))
	for _, m := range []*msg.Message{voteT, voteU, aboutT} {
		mustAppend(t, s, m)
	}

	got := collect(t, func(fn func(int64, *msg.Message) error) error {
		return s.ScanLinks(ctx, msg.RelVote, "%t", 0, 3, fn)
	})
	assert.Equal(t, []string{voteT.Key}, got)

	got = collect(t, func(fn func(int64, *msg.Message) error) error {
		return s.ScanLinks(ctx, "", "%t", 0, 3, fn)
	})
	assert.Equal(t, []string{voteT.Key, aboutT.Key}, got)

	got = collect(t, func(fn func(int64, *msg.Message) error) error {
		return s.ScanLinks(ctx, "", "%t", 1, 3, fn)
	})
	assert.Equal(t, []string{aboutT.Key}, got, "after is exclusive")
}

func TestStore_BacksFeed(t *testing.T) {
	s := createTestStore(t)
	feed := logsource.NewFeed(s)
	defer feed.Close()
	ctx := context.Background()

	old := msg.MustNew("@a", 1, msg.NewVote("%t", 1))
	_, err := feed.Append(ctx, old)
	require.NoError(t, err)

	sub, err := feed.Subscribe(ctx, logsource.Filter{Rel: msg.RelVote, Dest: "%t", Live: true})
	require.NoError(t, err)
	defer sub.Close()

	first := <-sub.C
	require.NoError(t, first.Err)
	assert.Equal(t, old.Key, first.Msg.Key)
	assert.True(t, (<-sub.C).Sync)

	_, err = feed.Append(ctx, msg.MustNew("@b", 2, msg.NewVote("%other", 1)))
	require.NoError(t, err)
	live := msg.MustNew("@b", 3, msg.NewVote("%t", -1))
	_, err = feed.Append(ctx, live)
	require.NoError(t, err)

	item := <-sub.C
	require.NoError(t, item.Err)
	assert.Equal(t, live.Key, item.Msg.Key)
	assert.Equal(t, int64(3), item.Seq)
}
