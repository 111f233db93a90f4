package issues

// State is where a tracked item sits in its lifecycle.
type State int

const (
	// StateUnknown means no creation event has been folded for the item.
	StateUnknown State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Kind distinguishes issues from pull requests.
type Kind int

const (
	KindIssue Kind = iota
	KindPullRequest
)

func (k Kind) String() string {
	if k == KindPullRequest {
		return "pull-request"
	}
	return "issue"
}

// Counts is the number of open items in one project.
type Counts struct {
	Issues       int `json:"issues"`
	PullRequests int `json:"pull_requests"`
}

// Total returns open issues plus open pull requests.
func (c Counts) Total() int {
	return c.Issues + c.PullRequests
}

func (c *Counts) add(k Kind, delta int) {
	if k == KindPullRequest {
		c.PullRequests += delta
	} else {
		c.Issues += delta
	}
}

// item is one created issue or pull request.
type item struct {
	project string
	kind    Kind
	state   State
}

// ledger holds per-item state and the tombstones for items closed before
// their creation was seen.
type ledger struct {
	items      map[string]*item
	tombstones map[string]struct{}
}

func newLedger() *ledger {
	return &ledger{
		items:      make(map[string]*item),
		tombstones: make(map[string]struct{}),
	}
}

// transition is a change in one project's open counts.
type transition struct {
	project string
	kind    Kind
	delta   int
}

// create folds a creation event. A second creation of the same id is a
// no-op. A pending tombstone makes the item start closed.
func (l *ledger) create(id, project string, kind Kind) (transition, bool) {
	if _, ok := l.items[id]; ok {
		return transition{}, false
	}

	it := &item{project: project, kind: kind, state: StateOpen}
	if _, ok := l.tombstones[id]; ok {
		delete(l.tombstones, id)
		it.state = StateClosed
	}
	l.items[id] = it

	if it.state != StateOpen {
		return transition{}, false
	}
	return transition{project: project, kind: kind, delta: 1}, true
}

// setOpen folds a status change. Repeating the current state is a no-op.
// Before creation, a close leaves a tombstone and a reopen clears it.
func (l *ledger) setOpen(id string, open bool) (transition, bool) {
	it, ok := l.items[id]
	if !ok {
		if open {
			delete(l.tombstones, id)
		} else {
			l.tombstones[id] = struct{}{}
		}
		return transition{}, false
	}

	switch {
	case open && it.state == StateClosed:
		it.state = StateOpen
		return transition{project: it.project, kind: it.kind, delta: 1}, true
	case !open && it.state == StateOpen:
		it.state = StateClosed
		return transition{project: it.project, kind: it.kind, delta: -1}, true
	}
	return transition{}, false
}

func (l *ledger) state(id string) State {
	if it, ok := l.items[id]; ok {
		return it.state
	}
	return StateUnknown
}
