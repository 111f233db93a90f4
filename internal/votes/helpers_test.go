package votes

import (
	"testing"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/testutil"
)

var errTransport = testutil.ErrTransport

type fixture struct {
	feed    *logsource.Feed
	source  *testutil.Source
	tallies *Tallies
}

func newFixture(t *testing.T, gate chan struct{}, opts ...Option) *fixture {
	t.Helper()
	feed := logsource.NewFeed(logsource.NewMemoryLog())
	src := testutil.NewSource(feed)
	src.Hold = testutil.HoldAll(gate)
	tallies := New(src, opts...)
	t.Cleanup(func() {
		tallies.Close()
		feed.Close()
	})
	return &fixture{feed: feed, source: src, tallies: tallies}
}

func (f *fixture) vote(t *testing.T, author string, ts int64, target string, value int) {
	t.Helper()
	testutil.Append(t, f.feed, author, ts, msg.NewVote(target, value))
}
