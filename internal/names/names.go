// Package names resolves display names and avatars for identities and
// other targets from naming assertions in the log.
//
// # Precedence
//
// Name and image are resolved independently. For each, the first tier
// with a value wins:
//
//  1. self: what the target asserted about itself, or the target's own
//     message content when the target is a message
//  2. owner: what the owning identity asserted, when the target has an
//     owner other than itself
//  3. viewer: what the requesting viewer asserted
//  4. third party: the most recent assertion by anyone else
//  5. fallback: the truncated target id (names only)
//
// Only each author's latest value per field counts.
//
// # Caching
//
// Resolutions are cached per (viewer, target, owner) in a bounded
// single-flight cache. Each cached Handle owns one live subscription that
// patches it in place; evicting the handle closes the subscription.
package names

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/memo"
	"github.com/roach88/viewfold/internal/metrics"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/view"
)

// DefaultWorkers bounds NameAll fan-out.
const DefaultWorkers = 4

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithDirectory sets the lookup used to seed a message target's own name.
func WithDirectory(d logsource.Directory) Option {
	return func(r *Resolver) {
		r.directory = d
	}
}

// WithCapacity bounds how many resolutions stay cached.
func WithCapacity(n int) Option {
	return func(r *Resolver) {
		r.capacity = n
	}
}

// WithNameLength sets the fallback truncation length.
func WithNameLength(n int) Option {
	return func(r *Resolver) {
		r.nameLength = n
	}
}

// WithWorkers bounds concurrent lookups in NameAll.
func WithWorkers(n int) Option {
	return func(r *Resolver) {
		r.workers = n
	}
}

// Resolver owns the name cache for one log source.
type Resolver struct {
	source     logsource.Source
	directory  logsource.Directory
	logger     *slog.Logger
	capacity   int
	nameLength int
	workers    int

	store *view.Store[Request, *claims]
	cache *memo.Cache[Request, *Handle]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a resolver over source.
func New(source logsource.Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:     source,
		logger:     slog.Default(),
		capacity:   memo.DefaultCapacity,
		nameLength: DefaultNameLength,
		workers:    DefaultWorkers,
		store:      view.New[Request, *claims](metrics.ViewNames, newClaims, cloneClaims),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers <= 0 {
		r.workers = DefaultWorkers
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.cache = memo.New(metrics.ViewNames, r.capacity, memo.WithEvict(func(_ Request, h *Handle) {
		h.close()
	}))
	return r
}

// Resolve returns the live handle for req, replaying the target's naming
// history first if it is not cached. Concurrent calls for the same request
// share one replay and receive the same handle.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Handle, error) {
	req, err := Normalize(req.Viewer, req)
	if err != nil {
		return nil, err
	}
	return r.cache.Get(ctx, req, r.open)
}

// Name returns the display name viewer should see for target. It never
// fails: any error falls back to the truncated id.
func (r *Resolver) Name(ctx context.Context, viewer, target string) string {
	h, err := r.Resolve(ctx, Request{Viewer: viewer, Target: target})
	if err != nil {
		r.logger.Debug("name fallback", "target", target, "error", err)
		return Truncate(target, r.nameLength)
	}
	return h.Profile().Name
}

// Image returns the avatar id viewer should see for target, or "".
func (r *Resolver) Image(ctx context.Context, viewer, target string) (string, error) {
	h, err := r.Resolve(ctx, Request{Viewer: viewer, Target: target})
	if err != nil {
		return "", err
	}
	return h.Profile().Image, nil
}

// NameAll resolves names for ids with at most the configured number of
// lookups in flight.
func (r *Resolver) NameAll(ctx context.Context, viewer string, ids []string) (map[string]string, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]string, len(ids))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name := r.Name(gctx, viewer, id)
			mu.Lock()
			out[id] = name
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("name all: %w", err)
	}
	return out, nil
}

// Peek returns the cached handle for req without resolving.
func (r *Resolver) Peek(req Request) (*Handle, bool) {
	req, err := Normalize(req.Viewer, req)
	if err != nil {
		return nil, false
	}
	return r.cache.Peek(req)
}

// Len returns the number of cached resolutions.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

// Close stops every live handle. Handles keep their last profile.
func (r *Resolver) Close() {
	r.cancel()
	r.cache.Close()
	r.wg.Wait()
}

// open seeds, subscribes and replays one request. It returns once the
// history has been folded; the live tail keeps running in the background.
func (r *Resolver) open(ctx context.Context, req Request) (*Handle, error) {
	if r.ctx.Err() != nil {
		return nil, logsource.ErrClosed
	}

	sub, err := r.source.Subscribe(r.ctx, logsource.Filter{
		Rel:  msg.RelAbout,
		Dest: req.Target,
		Live: true,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe names for %s: %w", req.Target, err)
	}

	h := &Handle{
		req:        req,
		nameLength: r.nameLength,
		entry:      r.store.Open(req),
		sub:        sub,
		done:       make(chan struct{}),
		profile:    newClaims().resolve(req, r.nameLength),
	}
	r.seed(ctx, h)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		r.run(h)
	}()

	select {
	case <-h.entry.Done():
	case <-r.ctx.Done():
		h.close()
		return nil, logsource.ErrClosed
	}

	if _, err := h.entry.Wait(ctx); err != nil {
		h.close()
		return nil, err
	}
	return h, nil
}

// seed folds the target's own message content into the self tier.
func (r *Resolver) seed(ctx context.Context, h *Handle) {
	if r.directory == nil || !msg.IsMessageID(h.req.Target) {
		return
	}

	m, err := r.directory.Get(ctx, h.req.Target)
	if err != nil {
		if !errors.Is(err, logsource.ErrNotFound) {
			r.logger.Warn("name seed lookup failed", "target", h.req.Target, "error", err)
		}
		return
	}

	name := m.Content.String("name")
	image := m.Content.Link("image")
	if name == "" && image == "" {
		return
	}
	h.apply(func(c *claims) {
		c.seedFrom(m.Timestamp, name, image)
	})
}

// run drains h's subscription. It is the only writer of h's entry.
func (r *Resolver) run(h *Handle) {
	for item := range h.sub.C {
		switch {
		case item.Err != nil:
			r.fail(h, item.Err)
			return
		case item.Sync:
			h.entry.MarkWarm()
			metrics.WarmUps.WithLabelValues(metrics.ViewNames, "ok").Inc()
		case item.Msg != nil:
			about, ok := item.Msg.Content.About()
			if !ok || about.About != h.req.Target {
				continue
			}
			h.apply(func(c *claims) {
				c.assert(item.Msg.Author, item.Seq, item.Msg.Timestamp, about)
			})
		}
	}
}

func (r *Resolver) fail(h *Handle, err error) {
	if errors.Is(err, logsource.ErrClosed) && r.ctx.Err() != nil {
		return
	}

	if h.entry.Status() == view.StatusReady {
		h.markStale()
		metrics.LiveErrors.WithLabelValues(metrics.ViewNames).Inc()
		r.logger.Warn("name fold stopped, serving last profile", "target", h.req.Target, "error", err)
		return
	}

	metrics.WarmUps.WithLabelValues(metrics.ViewNames, "error").Inc()
	r.logger.Error("name replay failed", "target", h.req.Target, "error", err)
	h.entry.Fail(fmt.Errorf("replay names: %w", err))
}
