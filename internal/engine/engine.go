package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/viewfold/internal/config"
	"github.com/roach88/viewfold/internal/issues"
	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/metrics"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/names"
	"github.com/roach88/viewfold/internal/view"
	"github.com/roach88/viewfold/internal/votes"
)

// Voter is one voting identity with its resolved display name.
type Voter struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Voters is a tally with names resolved for the viewer.
type Voters struct {
	Up   []Voter `json:"up"`
	Down []Voter `json:"down"`
}

// Engine owns the aggregates for one log.
type Engine struct {
	feed   *logsource.Feed
	votes  *votes.Tallies
	names  *names.Resolver
	issues *issues.Tracker
	logger *slog.Logger

	nameLength int
	closeOnce  sync.Once
}

type options struct {
	logger        *slog.Logger
	cacheCapacity int
	fanoutWorkers int
	nameLength    int
	pollInterval  time.Duration
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger shared by every aggregate.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithCacheCapacity bounds the vote and name caches.
func WithCacheCapacity(n int) Option {
	return func(o *options) {
		o.cacheCapacity = n
	}
}

// WithFanoutWorkers bounds concurrent name lookups per query.
func WithFanoutWorkers(n int) Option {
	return func(o *options) {
		o.fanoutWorkers = n
	}
}

// WithNameLength sets the fallback truncation length.
func WithNameLength(n int) Option {
	return func(o *options) {
		o.nameLength = n
	}
}

// WithPollInterval makes live subscriptions poll for appends made by
// other processes.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithConfig applies every engine setting from cfg.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		o.cacheCapacity = cfg.CacheCapacity
		o.fanoutWorkers = cfg.FanoutWorkers
		o.nameLength = cfg.NameLength
		o.pollInterval = cfg.PollInterval
	}
}

// New creates an engine over backend. Aggregates start on first query.
func New(backend logsource.Backend, opts ...Option) *Engine {
	cfg := config.Default()
	o := options{
		logger:        slog.Default(),
		cacheCapacity: cfg.CacheCapacity,
		fanoutWorkers: cfg.FanoutWorkers,
		nameLength:    cfg.NameLength,
	}
	for _, opt := range opts {
		opt(&o)
	}

	feedOpts := []logsource.FeedOption{logsource.WithLogger(o.logger)}
	if o.pollInterval > 0 {
		feedOpts = append(feedOpts, logsource.WithPollInterval(o.pollInterval))
	}
	feed := logsource.NewFeed(backend, feedOpts...)

	e := &Engine{
		feed: feed,
		votes: votes.New(feed,
			votes.WithLogger(o.logger),
			votes.WithCapacity(o.cacheCapacity),
		),
		names: names.New(feed,
			names.WithLogger(o.logger),
			names.WithDirectory(feed),
			names.WithCapacity(o.cacheCapacity),
			names.WithNameLength(o.nameLength),
			names.WithWorkers(o.fanoutWorkers),
		),
		issues:     issues.New(feed, issues.WithLogger(o.logger)),
		logger:     o.logger,
		nameLength: o.nameLength,
	}
	e.logger.Info("engine started",
		"cache_capacity", o.cacheCapacity,
		"fanout_workers", o.fanoutWorkers,
	)
	return e
}

// Name returns the display name viewer sees for target. Never fails.
func (e *Engine) Name(ctx context.Context, viewer, target string) string {
	return e.names.Name(ctx, viewer, target)
}

// Profile resolves target for viewer under an explicit owner. The owner
// may be empty when target owns itself.
func (e *Engine) Profile(ctx context.Context, viewer, target, owner string) (names.Profile, error) {
	h, err := e.names.Resolve(ctx, names.Request{Viewer: viewer, Target: target, Owner: owner})
	if err != nil {
		return names.Profile{Name: names.Truncate(target, e.nameLength)}, queryError(metrics.ViewNames, target, err)
	}
	return h.Profile(), nil
}

// Image returns the avatar id viewer sees for target, or "".
func (e *Engine) Image(ctx context.Context, viewer, target string) (string, error) {
	img, err := e.names.Image(ctx, viewer, target)
	return img, queryError(metrics.ViewNames, target, err)
}

// Tally returns target's vote tally, waiting for replay until ctx ends.
func (e *Engine) Tally(ctx context.Context, target string) (votes.Tally, error) {
	t, err := e.votes.Tally(ctx, target)
	return t, queryError(metrics.ViewVotes, target, err)
}

// PeekTally returns target's tally without waiting.
func (e *Engine) PeekTally(target string) (votes.Tally, view.Status) {
	return e.votes.Peek(target)
}

// Voters returns target's voters with names resolved for viewer. Name
// lookups run on a bounded worker pool.
func (e *Engine) Voters(ctx context.Context, viewer, target string) (Voters, error) {
	t, err := e.Tally(ctx, target)
	if err != nil {
		return Voters{}, err
	}

	ids := make([]string, 0, len(t.Upvoters)+len(t.Downvoters))
	ids = append(ids, t.Upvoters...)
	ids = append(ids, t.Downvoters...)

	resolved, err := e.names.NameAll(ctx, viewer, ids)
	if err != nil {
		return Voters{}, queryError(metrics.ViewNames, target, err)
	}

	named := func(ids []string) []Voter {
		out := make([]Voter, 0, len(ids))
		for _, id := range ids {
			out = append(out, Voter{ID: id, Name: resolved[id]})
		}
		return out
	}
	return Voters{Up: named(t.Upvoters), Down: named(t.Downvoters)}, nil
}

// OpenCount returns project's open items. ok is false until the tracker
// has replayed; it never blocks.
func (e *Engine) OpenCount(project string) (issues.Counts, bool) {
	return e.issues.OpenCount(project)
}

// WaitOpenCount is OpenCount that waits for replay until ctx ends.
func (e *Engine) WaitOpenCount(ctx context.Context, project string) (issues.Counts, error) {
	if err := e.issues.WaitReady(ctx); err != nil {
		return issues.Counts{}, queryError(metrics.ViewIssues, project, err)
	}
	c, ok := e.issues.OpenCount(project)
	if !ok {
		// A replay failure between WaitReady and OpenCount restarts the
		// tracker.
		return issues.Counts{}, queryError(metrics.ViewIssues, project, view.ErrPending)
	}
	return c, nil
}

// ItemState returns the folded state of one issue or pull request.
func (e *Engine) ItemState(id string) issues.State {
	return e.issues.State(id)
}

// Publish appends m to the log. Live aggregates pick it up.
func (e *Engine) Publish(ctx context.Context, m *msg.Message) (int64, error) {
	seq, err := e.feed.Append(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	return seq, nil
}

// Source returns the engine's log subscription source.
func (e *Engine) Source() logsource.Source {
	return e.feed
}

// Close stops every aggregate and the feed. The backend is not closed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.votes.Close()
		e.names.Close()
		e.issues.Close()
		e.feed.Close()
		e.logger.Info("engine stopped")
	})
}
