package issues

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/testutil"
)

var errTransport = testutil.ErrTransport

// holdCreations gates both creation streams.
func holdCreations(gate chan struct{}) func(logsource.Filter) <-chan struct{} {
	return func(f logsource.Filter) <-chan struct{} {
		if f.Type != "" {
			return gate
		}
		return nil
	}
}

// holdStatus gates the status stream.
func holdStatus(gate chan struct{}) func(logsource.Filter) <-chan struct{} {
	return func(f logsource.Filter) <-chan struct{} {
		if f.Rel == msg.RelIssues {
			return gate
		}
		return nil
	}
}

type fixture struct {
	feed    *logsource.Feed
	source  *testutil.Source
	tracker *Tracker
}

func newFixture(t *testing.T, hold func(logsource.Filter) <-chan struct{}) *fixture {
	t.Helper()
	feed := logsource.NewFeed(logsource.NewMemoryLog())
	src := testutil.NewSource(feed)
	src.Hold = hold
	tracker := New(src)
	t.Cleanup(func() {
		tracker.Close()
		feed.Close()
	})
	return &fixture{feed: feed, source: src, tracker: tracker}
}

func (f *fixture) append(t *testing.T, author string, ts int64, content msg.Content) *msg.Message {
	t.Helper()
	return testutil.Append(t, f.feed, author, ts, content)
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, f.tracker.WaitReady(context.Background()))
}
