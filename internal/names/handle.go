package names

import (
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/view"
)

// Profile is the resolved display data for a target.
type Profile struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// field is one asserted value and where it sits in the log.
type field struct {
	value string
	ts    int64
	seq   int64
}

// newer orders assertions by timestamp, then by log position.
func (f *field) newer(than *field) bool {
	if than == nil {
		return true
	}
	if f.ts != than.ts {
		return f.ts > than.ts
	}
	return f.seq > than.seq
}

// claim is the latest name and image one identity asserted. The fields
// move independently: an image-only assertion keeps the earlier name.
type claim struct {
	name  *field
	image *field
}

// claims is the folded state of one target: every asserting identity's
// latest claim plus the target's own content from the directory.
type claims struct {
	byAuthor map[string]*claim
	seed     claim
}

func newClaims() *claims {
	return &claims{byAuthor: map[string]*claim{}}
}

func cloneClaims(c *claims) *claims {
	out := &claims{byAuthor: make(map[string]*claim, len(c.byAuthor)), seed: c.seed}
	for a, cl := range c.byAuthor {
		cp := *cl
		out.byAuthor[a] = &cp
	}
	return out
}

// assert records a naming assertion. Later log positions replace earlier
// ones from the same author.
func (c *claims) assert(author string, seq, ts int64, about msg.About) {
	cl := c.byAuthor[author]
	if cl == nil {
		cl = &claim{}
		c.byAuthor[author] = cl
	}
	if name := norm.NFC.String(about.Name); name != "" {
		cl.name = &field{value: name, ts: ts, seq: seq}
	}
	if about.Image != "" {
		cl.image = &field{value: about.Image, ts: ts, seq: seq}
	}
}

// seedFrom sets the target's own content as the fallback self claim.
func (c *claims) seedFrom(ts int64, name, image string) {
	c.seed = claim{}
	if name = norm.NFC.String(name); name != "" {
		c.seed.name = &field{value: name, ts: ts}
	}
	if image != "" {
		c.seed.image = &field{value: image, ts: ts}
	}
}

// resolve applies the tiers to each field independently.
func (c *claims) resolve(req Request, nameLength int) Profile {
	p := Profile{
		Name:  c.pick(req, func(cl *claim) *field { return cl.name }),
		Image: c.pick(req, func(cl *claim) *field { return cl.image }),
	}
	if p.Name == "" {
		p.Name = Truncate(req.Target, nameLength)
	}
	return p
}

// pick walks self, owner, viewer, then the most recent third party.
func (c *claims) pick(req Request, get func(*claim) *field) string {
	lookup := func(author string) *field {
		if cl := c.byAuthor[author]; cl != nil {
			return get(cl)
		}
		return nil
	}

	if f := lookup(req.Target); f != nil {
		return f.value
	}
	if f := get(&c.seed); f != nil {
		return f.value
	}
	if req.Owner != req.Target {
		if f := lookup(req.Owner); f != nil {
			return f.value
		}
	}
	if req.Viewer != "" {
		if f := lookup(req.Viewer); f != nil {
			return f.value
		}
	}

	var latest *field
	for _, cl := range c.byAuthor {
		if f := get(cl); f != nil && f.newer(latest) {
			latest = f
		}
	}
	if latest != nil {
		return latest.value
	}
	return ""
}

// Handle is a live cached resolution. Its profile is patched in place as
// naming assertions arrive; holders never need to re-resolve.
type Handle struct {
	req        Request
	nameLength int

	entry *view.Entry[Request, *claims]
	sub   *logsource.Subscription
	done  chan struct{}

	mu      sync.RWMutex
	profile Profile
	stale   bool
}

// Request returns the normalized request the handle answers.
func (h *Handle) Request() Request {
	return h.req
}

// Profile returns the current resolution.
func (h *Handle) Profile() Profile {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.profile
}

// Stale reports whether live updates stopped after a transport error.
// The profile stays at its last value.
func (h *Handle) Stale() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stale
}

// apply folds a change into the entry and republishes the profile.
func (h *Handle) apply(fn func(*claims)) {
	h.entry.Apply(func(c **claims) {
		fn(*c)
		p := (*c).resolve(h.req, h.nameLength)
		h.mu.Lock()
		h.profile = p
		h.mu.Unlock()
	})
}

func (h *Handle) markStale() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stale = true
}

// close stops the live subscription and waits for the fold to exit.
func (h *Handle) close() {
	h.sub.Close()
	<-h.done
	h.entry.Fail(view.ErrForgotten)
}
