// Package fixture loads message-log fixtures from YAML and checks the
// views an engine folds from them.
//
// Message keys are content-addressed and cannot be written by hand, so a
// message may declare a ref and later content may mention it as "$ref".
// Refs are replaced by the referenced key before the message is built.
package fixture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/viewfold/internal/engine"
	"github.com/roach88/viewfold/internal/issues"
	"github.com/roach88/viewfold/internal/msg"
	"github.com/roach88/viewfold/internal/names"
	"github.com/roach88/viewfold/internal/votes"
)

// Fixture is a named message log plus the views expected from it.
type Fixture struct {
	// Name uniquely identifies this fixture.
	Name string `yaml:"name"`

	// Description explains what this fixture exercises.
	Description string `yaml:"description"`

	// Messages are appended in order.
	Messages []Entry `yaml:"messages"`

	// Expect lists the views to check after import.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Entry is one message to append.
type Entry struct {
	// Ref names the message so later entries can link to "$ref".
	Ref string `yaml:"ref,omitempty"`

	Author string `yaml:"author"`

	// Timestamp defaults to the entry's 1-based position.
	Timestamp int64 `yaml:"timestamp,omitempty"`

	Content map[string]any `yaml:"content"`
}

// Expect holds expected view values. Keys may be "$ref".
type Expect struct {
	Tallies map[string]TallyExpect `yaml:"tallies,omitempty"`
	Names   []NameExpect           `yaml:"names,omitempty"`
	Open    map[string]OpenExpect  `yaml:"open,omitempty"`
}

// TallyExpect is an expected vote tally.
type TallyExpect struct {
	Upvotes    int      `yaml:"upvotes"`
	Downvotes  int      `yaml:"downvotes"`
	Upvoters   []string `yaml:"upvoters,omitempty"`
	Downvoters []string `yaml:"downvoters,omitempty"`
}

// NameExpect is an expected display name.
type NameExpect struct {
	Viewer string `yaml:"viewer,omitempty"`
	Target string `yaml:"target"`
	Owner  string `yaml:"owner,omitempty"`
	Name   string `yaml:"name"`
}

// OpenExpect is an expected open-item count.
type OpenExpect struct {
	Issues       int `yaml:"issues"`
	PullRequests int `yaml:"pull_requests"`
}

// Querier is the read side a fixture checks.
type Querier interface {
	Tally(ctx context.Context, target string) (votes.Tally, error)
	Profile(ctx context.Context, viewer, target, owner string) (names.Profile, error)
	WaitOpenCount(ctx context.Context, project string) (issues.Counts, error)
}

// Publisher is the write side a fixture imports into.
type Publisher interface {
	Publish(ctx context.Context, m *msg.Message) (int64, error)
}

var _ Querier = (*engine.Engine)(nil)

// Load reads and parses a fixture file.
// Unknown fields are rejected so typos fail loudly.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a fixture.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// validate checks that required fields are present and refs are unique
// and defined before use.
func validate(f *Fixture) error {
	if f.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(f.Messages) == 0 {
		return fmt.Errorf("messages list is required and must be non-empty")
	}

	seen := make(map[string]bool)
	for i, e := range f.Messages {
		if e.Author == "" {
			return fmt.Errorf("messages[%d]: author is required", i)
		}
		if t, _ := e.Content["type"].(string); t == "" {
			return fmt.Errorf("messages[%d]: content.type is required", i)
		}
		for _, ref := range refsIn(e.Content) {
			if !seen[ref] {
				return fmt.Errorf("messages[%d]: $%s used before it is defined", i, ref)
			}
		}
		if e.Ref != "" {
			if seen[e.Ref] {
				return fmt.Errorf("messages[%d]: duplicate ref %q", i, e.Ref)
			}
			seen[e.Ref] = true
		}
	}
	return nil
}

// Build resolves refs and returns the messages in order, plus the key
// of every ref.
func (f *Fixture) Build() ([]*msg.Message, map[string]string, error) {
	keys := make(map[string]string)
	out := make([]*msg.Message, 0, len(f.Messages))

	for i, e := range f.Messages {
		content, ok := resolve(map[string]any(e.Content), keys).(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("messages[%d]: content is not a map", i)
		}
		ts := e.Timestamp
		if ts == 0 {
			ts = int64(i + 1)
		}
		m, err := msg.New(e.Author, ts, msg.Content(content))
		if err != nil {
			return nil, nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		if e.Ref != "" {
			keys[e.Ref] = m.Key
		}
		out = append(out, m)
	}
	return out, keys, nil
}

// Import appends every message through p and returns the ref keys.
func (f *Fixture) Import(ctx context.Context, p Publisher) (map[string]string, error) {
	messages, keys, err := f.Build()
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		if _, err := p.Publish(ctx, m); err != nil {
			return nil, fmt.Errorf("import %s: %w", f.Name, err)
		}
	}
	return keys, nil
}

// Verify checks every expectation against q and joins all mismatches.
func (f *Fixture) Verify(ctx context.Context, q Querier, keys map[string]string) error {
	if f.Expect == nil {
		return nil
	}
	var errs []error
	sub := func(s string) string { return substitute(s, keys) }

	for _, target := range sortedKeys(f.Expect.Tallies) {
		want := f.Expect.Tallies[target]
		got, err := q.Tally(ctx, sub(target))
		if err != nil {
			errs = append(errs, fmt.Errorf("tally %s: %w", target, err))
			continue
		}
		if got.Upvotes != want.Upvotes || got.Downvotes != want.Downvotes {
			errs = append(errs, fmt.Errorf("tally %s: got +%d/-%d, want +%d/-%d",
				target, got.Upvotes, got.Downvotes, want.Upvotes, want.Downvotes))
		}
		if want.Upvoters != nil && !sameSet(got.Upvoters, subAll(want.Upvoters, keys)) {
			errs = append(errs, fmt.Errorf("tally %s: upvoters %v, want %v", target, got.Upvoters, want.Upvoters))
		}
		if want.Downvoters != nil && !sameSet(got.Downvoters, subAll(want.Downvoters, keys)) {
			errs = append(errs, fmt.Errorf("tally %s: downvoters %v, want %v", target, got.Downvoters, want.Downvoters))
		}
	}

	for _, n := range f.Expect.Names {
		p, err := q.Profile(ctx, sub(n.Viewer), sub(n.Target), sub(n.Owner))
		if err != nil {
			errs = append(errs, fmt.Errorf("name %s: %w", n.Target, err))
			continue
		}
		if p.Name != n.Name {
			errs = append(errs, fmt.Errorf("name %s for %q: got %q, want %q", n.Target, n.Viewer, p.Name, n.Name))
		}
	}

	for _, project := range sortedKeys(f.Expect.Open) {
		want := f.Expect.Open[project]
		got, err := q.WaitOpenCount(ctx, sub(project))
		if err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", project, err))
			continue
		}
		if got.Issues != want.Issues || got.PullRequests != want.PullRequests {
			errs = append(errs, fmt.Errorf("open %s: got %d issues/%d pull requests, want %d/%d",
				project, got.Issues, got.PullRequests, want.Issues, want.PullRequests))
		}
	}

	return errors.Join(errs...)
}

// resolve replaces "$ref" strings anywhere in v.
func resolve(v any, keys map[string]string) any {
	switch val := v.(type) {
	case string:
		return substitute(val, keys)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = resolve(item, keys)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolve(item, keys)
		}
		return out
	}
	return v
}

func substitute(s string, keys map[string]string) string {
	if ref, ok := strings.CutPrefix(s, "$"); ok {
		if key, found := keys[ref]; found {
			return key
		}
	}
	return s
}

func subAll(ss []string, keys map[string]string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = substitute(s, keys)
	}
	return out
}

// refsIn lists the "$ref" strings in v.
func refsIn(v any) []string {
	var refs []string
	var walk func(any)
	walk = func(v any) {
		switch val := v.(type) {
		case string:
			if ref, ok := strings.CutPrefix(val, "$"); ok && ref != "" {
				refs = append(refs, ref)
			}
		case map[string]any:
			for _, item := range val {
				walk(item)
			}
		case []any:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(v)
	return refs
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
