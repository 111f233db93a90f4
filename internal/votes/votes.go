// Package votes folds vote messages into per-target tallies.
//
// Each target gets one live subscription over the vote links pointing at
// it. The subscription is shared by every caller through a single-flight
// cache, so two concurrent first queries never start two folds that could
// disagree.
//
// A vote fully replaces its author's previous vote on the same target:
// the author is removed from whichever side holds them, then added to the
// side matching the new sign. A zero vote only removes.
package votes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/memo"
	"github.com/roach88/viewfold/internal/metrics"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/view"
)

// ErrPending is returned by Tally when ctx ends before the target's
// history has been replayed.
var ErrPending = view.ErrPending

// Tally is a snapshot of one target's votes. Voter lists are sorted.
type Tally struct {
	Upvotes    int      `json:"upvotes"`
	Downvotes  int      `json:"downvotes"`
	Upvoters   []string `json:"upvoters"`
	Downvoters []string `json:"downvoters"`
}

// ballot is the folded state: the current side of every voting author.
type ballot struct {
	up   map[string]struct{}
	down map[string]struct{}
}

func newBallot() *ballot {
	return &ballot{up: map[string]struct{}{}, down: map[string]struct{}{}}
}

func cloneBallot(b *ballot) *ballot {
	out := &ballot{
		up:   make(map[string]struct{}, len(b.up)),
		down: make(map[string]struct{}, len(b.down)),
	}
	for a := range b.up {
		out.up[a] = struct{}{}
	}
	for a := range b.down {
		out.down[a] = struct{}{}
	}
	return out
}

// record applies one vote.
func (b *ballot) record(author string, value int) {
	delete(b.up, author)
	delete(b.down, author)
	switch {
	case value > 0:
		b.up[author] = struct{}{}
	case value < 0:
		b.down[author] = struct{}{}
	}
}

func (b *ballot) tally() Tally {
	return Tally{
		Upvotes:    len(b.up),
		Downvotes:  len(b.down),
		Upvoters:   sortedKeys(b.up),
		Downvoters: sortedKeys(b.down),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Option configures a Tallies.
type Option func(*Tallies)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tallies) {
		t.logger = l
	}
}

// WithCapacity bounds how many targets keep a live subscription.
func WithCapacity(n int) Option {
	return func(t *Tallies) {
		t.capacity = n
	}
}

// Tallies owns the vote aggregate for one log source.
type Tallies struct {
	source   logsource.Source
	logger   *slog.Logger
	capacity int

	store *view.Store[string, *ballot]
	cache *memo.Cache[string, *fold]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// fold is one target's running subscription.
type fold struct {
	entry *view.Entry[string, *ballot]
	sub   *logsource.Subscription
}

// New creates the vote aggregate over source.
func New(source logsource.Source, opts ...Option) *Tallies {
	t := &Tallies{
		source:   source,
		logger:   slog.Default(),
		capacity: memo.DefaultCapacity,
		store:    view.New[string, *ballot](metrics.ViewVotes, newBallot, cloneBallot),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.cache = memo.New(metrics.ViewVotes, t.capacity, memo.WithEvict(t.retire))
	return t
}

// Record folds one vote into target's tally outside the log subscription,
// for example a vote the caller has just published. When the same vote
// later arrives from the log it folds to the same state. It reports false
// and does nothing when target has no fold in the cache; the next Tally
// replays the vote from the log instead.
func (t *Tallies) Record(target, author string, value int) bool {
	f, ok := t.cache.Peek(target)
	if !ok {
		return false
	}
	f.entry.Apply(func(b **ballot) {
		(*b).record(author, value)
	})
	return true
}

// Tally returns target's tally once its history has been replayed. If ctx
// ends first it returns an error wrapping ErrPending; a replay failure is
// returned as is and the next call starts over.
func (t *Tallies) Tally(ctx context.Context, target string) (Tally, error) {
	f, err := t.acquire(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return Tally{}, fmt.Errorf("tally %s: %w: %w", target, ErrPending, err)
		}
		return Tally{}, fmt.Errorf("tally %s: %w", target, err)
	}

	b, err := f.entry.Wait(ctx)
	if err != nil {
		return Tally{}, fmt.Errorf("tally %s: %w", target, err)
	}
	return b.tally(), nil
}

// Peek returns target's tally without blocking. It starts the fold if
// none is running and reports StatusPending until replay completes.
func (t *Tallies) Peek(target string) (Tally, view.Status) {
	// Starting a fold does not wait for replay.
	if _, err := t.acquire(t.ctx, target); err != nil {
		return Tally{}, view.StatusUnknown
	}

	b, status := t.store.Get(target)
	if status != view.StatusReady {
		return Tally{}, status
	}
	return b.tally(), status
}

// Close stops every fold and waits for them to exit.
func (t *Tallies) Close() {
	t.cancel()
	t.cache.Close()
	t.wg.Wait()
}

// acquire returns target's running fold. A fold that failed before it was
// cached is replaced once.
func (t *Tallies) acquire(ctx context.Context, target string) (*fold, error) {
	f, err := t.cache.Get(ctx, target, t.start)
	if err != nil {
		return nil, err
	}
	if f.entry.Status() != view.StatusUnknown {
		return f, nil
	}
	t.cache.RemoveIf(target, func(cur *fold) bool { return cur == f })
	return t.cache.Get(ctx, target, t.start)
}

// start opens target's subscription and launches its fold.
func (t *Tallies) start(_ context.Context, target string) (*fold, error) {
	if err := t.ctx.Err(); err != nil {
		return nil, logsource.ErrClosed
	}

	sub, err := t.source.Subscribe(t.ctx, logsource.Filter{
		Rel:  msg.RelVote,
		Dest: target,
		Live: true,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe votes for %s: %w", target, err)
	}

	f := &fold{entry: t.store.Open(target), sub: sub}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(target, f)
	}()

	t.logger.Debug("vote fold started", "target", target, "subscription", sub.ID)
	return f, nil
}

// run drains f's subscription. Record is the only other writer of f's entry.
func (t *Tallies) run(target string, f *fold) {
	for item := range f.sub.C {
		switch {
		case item.Err != nil:
			t.fail(target, f, item.Err)
			return
		case item.Sync:
			f.entry.MarkWarm()
			metrics.WarmUps.WithLabelValues(metrics.ViewVotes, "ok").Inc()
		case item.Msg != nil:
			v, ok := item.Msg.Content.Vote()
			if !ok || v.Link != target {
				continue
			}
			f.entry.Apply(func(b **ballot) {
				(*b).record(item.Msg.Author, v.Value)
			})
		}
	}
}

// fail handles a transport error. Before warm-up the target returns to
// unknown and is dropped from the cache so the next query retries. After
// warm-up the last tally keeps being served.
func (t *Tallies) fail(target string, f *fold, err error) {
	if errors.Is(err, logsource.ErrClosed) && t.ctx.Err() != nil {
		return
	}

	if f.entry.Status() == view.StatusReady {
		metrics.LiveErrors.WithLabelValues(metrics.ViewVotes).Inc()
		t.logger.Warn("vote fold stopped, serving last tally", "target", target, "error", err)
		return
	}

	metrics.WarmUps.WithLabelValues(metrics.ViewVotes, "error").Inc()
	t.logger.Error("vote replay failed", "target", target, "error", err)
	f.entry.Fail(fmt.Errorf("replay votes: %w", err))
	t.cache.RemoveIf(target, func(cur *fold) bool { return cur == f })
}

// retire is the cache eviction hook.
func (t *Tallies) retire(target string, f *fold) {
	f.sub.Close()
	f.entry.Fail(view.ErrForgotten)
	t.logger.Debug("vote fold retired", "target", target)
}
