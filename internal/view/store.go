// Package view is the base for in-memory aggregates folded from the log.
//
// Every key moves through three states. Unknown means nothing is tracking
// the key. Pending means a fold has started but its historical replay has
// not finished, so the value is partial. Ready means replay finished; the
// value keeps following live events from then on.
//
// A Pending or Unknown result must never be read as a real zero. Callers
// get the status alongside the value for exactly that reason.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/viewfold/internal/metrics"
)

// Status reports how far a key's fold has progressed.
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

var (
	// ErrPending is returned when a wait ends before replay completes.
	ErrPending = errors.New("view not yet warm")

	// ErrForgotten is returned to waiters of an entry that was dropped.
	ErrForgotten = errors.New("view entry dropped")
)

// Store is a keyed map of folded values.
//
// Thread Safety:
//
//	Reads take the read lock and return copies made by the clone function.
//	Writes go through Entry handles; each entry has one owning fold task.
type Store[K comparable, V any] struct {
	name  string
	init  func() V
	clone func(V) V

	mu      sync.RWMutex
	entries map[K]*Entry[K, V]
}

// Entry is one key's slot. An entry that has been forgotten is detached:
// writes to it are ignored so a retired fold cannot touch its successor.
type Entry[K comparable, V any] struct {
	store *Store[K, V]
	key   K
	value V
	warm  bool
	err   error
	done  chan struct{}
}

// New creates a store. name labels the store in metrics; init builds the
// zero value of a fresh entry and clone copies a value for readers.
func New[K comparable, V any](name string, init func() V, clone func(V) V) *Store[K, V] {
	return &Store[K, V]{
		name:    name,
		init:    init,
		clone:   clone,
		entries: make(map[K]*Entry[K, V]),
	}
}

// Open returns the live entry for key, creating a pending one if needed.
func (s *Store[K, V]) Open(key K) *Entry[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(key)
}

func (s *Store[K, V]) openLocked(key K) *Entry[K, V] {
	if e, ok := s.entries[key]; ok {
		return e
	}
	e := &Entry[K, V]{
		store: s,
		key:   key,
		value: s.init(),
		done:  make(chan struct{}),
	}
	s.entries[key] = e
	metrics.PendingViews.WithLabelValues(s.name).Inc()
	return e
}

// Apply folds one event into key's value, creating a pending entry if
// none exists.
func (s *Store[K, V]) Apply(key K, fn func(*V)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openLocked(key).applyLocked(fn)
}

// MarkWarm marks key's replay as finished.
func (s *Store[K, V]) MarkWarm(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.warmLocked()
	}
}

// MarkAllWarm marks every current entry warm. Used by folds that cover
// every key from one subscription.
func (s *Store[K, V]) MarkAllWarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.warmLocked()
	}
}

// Get returns a copy of key's value and its status. The value is the zero
// V unless the status is StatusReady.
func (s *Store[K, V]) Get(key K) (V, Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero V
	e, ok := s.entries[key]
	if !ok {
		return zero, StatusUnknown
	}
	if !e.warm {
		return zero, StatusPending
	}
	return s.clone(e.value), StatusReady
}

// Forget drops key. Waiters on the dropped entry get ErrForgotten.
func (s *Store[K, V]) Forget(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.detachLocked(ErrForgotten)
	}
}

// Reset drops every entry, failing their waiters with err.
func (s *Store[K, V]) Reset(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.detachLocked(err)
	}
}

// Keys returns the tracked keys in no particular order.
func (s *Store[K, V]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]K, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of tracked keys.
func (s *Store[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Key returns the entry's key.
func (e *Entry[K, V]) Key() K {
	return e.key
}

// Apply folds one event into the entry. Ignored once detached.
func (e *Entry[K, V]) Apply(fn func(*V)) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.applyLocked(fn)
}

// MarkWarm marks the entry's replay as finished.
func (e *Entry[K, V]) MarkWarm() {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.warmLocked()
}

// Fail drops the entry and hands err to its waiters. It is the warm-up
// failure path: the key goes back to unknown.
func (e *Entry[K, V]) Fail(err error) {
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	e.detachLocked(err)
}

// Status reports the entry's state; detached entries are unknown.
func (e *Entry[K, V]) Status() Status {
	e.store.mu.RLock()
	defer e.store.mu.RUnlock()

	switch {
	case !e.liveLocked():
		return StatusUnknown
	case e.warm:
		return StatusReady
	default:
		return StatusPending
	}
}

// Done is closed once the entry is warm or detached.
func (e *Entry[K, V]) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the entry is warm and returns a copy of its value.
// It returns ErrPending (wrapping ctx's error) if ctx ends first, and the
// failure error if the entry was detached.
func (e *Entry[K, V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		var zero V
		return zero, fmt.Errorf("%w: %w", ErrPending, ctx.Err())
	}

	e.store.mu.RLock()
	defer e.store.mu.RUnlock()
	if e.err != nil {
		var zero V
		return zero, e.err
	}
	return e.store.clone(e.value), nil
}

func (e *Entry[K, V]) liveLocked() bool {
	return e.store.entries[e.key] == e
}

func (e *Entry[K, V]) applyLocked(fn func(*V)) {
	if !e.liveLocked() {
		return
	}
	fn(&e.value)
	metrics.EventsFolded.WithLabelValues(e.store.name).Inc()
}

func (e *Entry[K, V]) warmLocked() {
	if e.warm || !e.liveLocked() {
		return
	}
	e.warm = true
	close(e.done)
	metrics.PendingViews.WithLabelValues(e.store.name).Dec()
}

func (e *Entry[K, V]) detachLocked(err error) {
	if !e.liveLocked() {
		return
	}
	delete(e.store.entries, e.key)
	if !e.warm {
		e.err = err
		close(e.done)
		metrics.PendingViews.WithLabelValues(e.store.name).Dec()
	}
}
