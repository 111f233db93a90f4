// Package issues tracks how many issues and pull requests are open in
// each project.
//
// Creations and status changes come from independent subscriptions, so a
// close can be seen before the creation it refers to. Such closes are
// kept as tombstones and applied when the creation arrives; the result
// does not depend on which stream delivers first.
//
// Counts are only reported once all three subscriptions (issue creations,
// pull-request creations, status changes) have finished their replay.
package issues

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/metrics"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/view"
)

// streamStatus is the index of the status-change stream.
const streamStatus = 2

// streams lists the sub-streams that must all sync before counts are
// answerable.
var streams = []logsource.Filter{
	{Type: msg.TypeIssue, Live: true},
	{Type: msg.TypePullRequest, Live: true},
	{Rel: msg.RelIssues, Live: true},
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// Tracker owns the open-item aggregate for one log source.
//
// Thread Safety:
//
//	One fold goroutine per run writes the ledger and counts. Readers take
//	the read lock.
type Tracker struct {
	source logsource.Source
	logger *slog.Logger

	counts *view.Store[string, Counts]

	mu     sync.RWMutex
	ledger *ledger
	run    *run
	closed bool
	wg     sync.WaitGroup
}

// run is one attempt at replaying and tailing the three streams.
type run struct {
	cancel context.CancelFunc
	subs   []*logsource.Subscription
	ready  chan struct{}
	failed chan struct{}
	err    error
	warm   bool
	stale  bool
}

// New creates a tracker over source. Nothing is subscribed until the
// first query.
func New(source logsource.Source, opts ...Option) *Tracker {
	t := &Tracker{
		source: source,
		logger: slog.Default(),
		counts: view.New[string, Counts](metrics.ViewIssues, func() Counts { return Counts{} }, func(c Counts) Counts { return c }),
		ledger: newLedger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OpenCount returns project's open counts. ok is false until every
// sub-stream has replayed its history; it never blocks.
func (t *Tracker) OpenCount(project string) (Counts, bool) {
	if !t.ensure() {
		return Counts{}, false
	}

	c, status := t.counts.Get(project)
	switch status {
	case view.StatusReady:
		return c, true
	case view.StatusUnknown:
		// Nothing was ever created under project.
		return Counts{}, true
	}
	return Counts{}, false
}

// OpenIssues returns project's open issue count.
func (t *Tracker) OpenIssues(project string) (int, bool) {
	c, ok := t.OpenCount(project)
	return c.Issues, ok
}

// OpenPullRequests returns project's open pull-request count.
func (t *Tracker) OpenPullRequests(project string) (int, bool) {
	c, ok := t.OpenCount(project)
	return c.PullRequests, ok
}

// State returns the folded state of one issue or pull request.
func (t *Tracker) State(id string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger.state(id)
}

// Ready returns a channel closed once the current run has replayed all
// three streams. It starts the tracker if needed.
func (t *Tracker) Ready() <-chan struct{} {
	t.ensure()
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.run == nil {
		return nil
	}
	return t.run.ready
}

// WaitReady blocks until counts are answerable. A replay failure is
// returned and the next query starts over.
func (t *Tracker) WaitReady(ctx context.Context) error {
	t.ensure()

	t.mu.RLock()
	r := t.run
	t.mu.RUnlock()
	if r == nil {
		return logsource.ErrClosed
	}

	select {
	case <-r.ready:
		return nil
	case <-r.failed:
		return r.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", view.ErrPending, ctx.Err())
	}
}

// Stale reports whether live updates stopped after a transport error.
func (t *Tracker) Stale() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.run != nil && t.run.stale
}

// Close stops the tracker and waits for its fold to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	r := t.run
	t.mu.Unlock()

	if r != nil {
		r.cancel()
	}
	t.wg.Wait()
}

// ensure starts a run if none is active and reports whether the active
// run is warm.
func (t *Tracker) ensure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.run != nil {
		return t.run.warm
	}
	if t.closed {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		cancel: cancel,
		ready:  make(chan struct{}),
		failed: make(chan struct{}),
	}
	for _, f := range streams {
		sub, err := t.source.Subscribe(ctx, f)
		if err != nil {
			cancel()
			for _, s := range r.subs {
				s.Close()
			}
			t.logger.Error("open-item subscribe failed", "filter", f.String(), "error", err)
			return false
		}
		r.subs = append(r.subs, sub)
	}

	t.run = r
	metrics.PendingViews.WithLabelValues(metrics.ViewIssues).Inc()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.fold(ctx, r)
	}()
	return false
}

// event is one item from one of the three streams.
type event struct {
	stream int
	item   logsource.Item
}

// fold merges the three streams. It is the only writer of the ledger and
// counts for the lifetime of r.
func (t *Tracker) fold(ctx context.Context, r *run) {
	defer func() {
		for _, s := range r.subs {
			s.Close()
		}
	}()

	started := time.Now()
	events := make(chan event)
	var fan sync.WaitGroup
	for i, sub := range r.subs {
		fan.Add(1)
		go func() {
			defer fan.Done()
			for item := range sub.C {
				select {
				case events <- event{stream: i, item: item}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	defer fan.Wait()
	defer r.cancel()

	waiting := len(r.subs)
	for {
		var ev event
		select {
		case ev = <-events:
		case <-ctx.Done():
			return
		}

		switch {
		case ev.item.Err != nil:
			t.streamFailed(r, ev.item.Err)
			return
		case ev.item.Sync:
			waiting--
			if waiting == 0 {
				t.markReady(r, time.Since(started))
			}
		case ev.item.Msg != nil:
			t.apply(r, ev.stream, ev.item.Msg)
		}
	}
}

// apply folds one message under the write lock. Creation streams only
// create; the status stream only toggles.
func (t *Tracker) apply(r *run, stream int, m *msg.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changes []transition
	switch stream {
	case streamStatus:
		for _, u := range m.Content.IssueUpdates() {
			if tr, ok := t.ledger.setOpen(u.Link, u.Open); ok {
				changes = append(changes, tr)
			}
		}
	default:
		kind := KindIssue
		if m.Type() == msg.TypePullRequest {
			kind = KindPullRequest
		}
		if project := m.Content.Project(); project != "" {
			if tr, ok := t.ledger.create(m.Key, project, kind); ok {
				changes = append(changes, tr)
			}
		}
	}

	for _, tr := range changes {
		t.touch(r, tr.project).Apply(func(c *Counts) {
			c.add(tr.kind, tr.delta)
		})
	}
}

// touch makes sure project has a counts entry; entries created after
// warm-up are warm immediately.
func (t *Tracker) touch(r *run, project string) *view.Entry[string, Counts] {
	e := t.counts.Open(project)
	if r.warm {
		e.MarkWarm()
	}
	return e
}

func (t *Tracker) markReady(r *run, took time.Duration) {
	t.mu.Lock()
	r.warm = true
	t.counts.MarkAllWarm()
	t.mu.Unlock()

	close(r.ready)
	metrics.PendingViews.WithLabelValues(metrics.ViewIssues).Dec()
	metrics.WarmUps.WithLabelValues(metrics.ViewIssues, "ok").Inc()
	t.logger.Info("open-item replay complete", "duration", took)
}

// streamFailed handles a transport error. The fold stops either way.
// Before warm-up the whole run is discarded so the next query replays
// from scratch. After warm-up the run stays in place with its last counts;
// the surviving streams are not folded any further, since creations
// without their status changes (or the reverse) would drift from any
// state the log ever had.
func (t *Tracker) streamFailed(r *run, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if errors.Is(err, logsource.ErrClosed) && t.closed {
		return
	}

	if r.warm {
		r.stale = true
		metrics.LiveErrors.WithLabelValues(metrics.ViewIssues).Inc()
		t.logger.Warn("open-item stream stopped, serving last counts", "error", err)
		return
	}

	r.err = fmt.Errorf("replay open items: %w", err)
	close(r.failed)
	t.run = nil
	t.ledger = newLedger()
	t.counts.Reset(r.err)
	metrics.PendingViews.WithLabelValues(metrics.ViewIssues).Dec()
	metrics.WarmUps.WithLabelValues(metrics.ViewIssues, "error").Inc()
	t.logger.Error("open-item replay failed", "error", err)
}
