package names

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/testutil"
)

var errTransport = testutil.ErrTransport

type fixture struct {
	feed     *logsource.Feed
	source   *testutil.Source
	resolver *Resolver
}

func newFixture(t *testing.T, gate chan struct{}, opts ...Option) *fixture {
	t.Helper()
	feed := logsource.NewFeed(logsource.NewMemoryLog())
	src := testutil.NewSource(feed)
	src.Hold = testutil.HoldAll(gate)
	opts = append([]Option{WithDirectory(feed)}, opts...)
	resolver := New(src, opts...)
	t.Cleanup(func() {
		resolver.Close()
		feed.Close()
	})
	return &fixture{feed: feed, source: src, resolver: resolver}
}

func (f *fixture) append(t *testing.T, author string, ts int64, content msg.Content) *msg.Message {
	t.Helper()
	return testutil.Append(t, f.feed, author, ts, content)
}

func (f *fixture) name(t *testing.T, author string, ts int64, target, name string) {
	t.Helper()
	f.append(t, author, ts, msg.NewAbout(target, name, ""))
}

func (f *fixture) resolve(t *testing.T, req Request) Profile {
	t.Helper()
	h, err := f.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	return h.Profile()
}
