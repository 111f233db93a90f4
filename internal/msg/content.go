package msg

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Content type tags understood by the view folds.
const (
	TypeVote        = "vote"
	TypeAbout       = "about"
	TypeIssue       = "issue"
	TypePullRequest = "pull-request"
	TypeIssueEdit   = "issue-edit"
	TypePost        = "post"
)

// Content is the tagged-union body of a message. The "type" field selects
// the variant; unknown variants are carried as-is.
type Content map[string]any

// Vote is the decoded body of a vote message.
type Vote struct {
	Link  string
	Value int
}

// About is the decoded body of a naming assertion.
type About struct {
	About string
	Name  string
	Image string
}

// IssueUpdate is one open/close status change carried in an "issues" list.
type IssueUpdate struct {
	Link string
	Open bool
}

// DecodeContent parses a JSON object, keeping integers exact.
func DecodeContent(data []byte) (Content, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var c Content
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("decode content: not an object")
	}
	return c, nil
}

// Type returns the "type" tag, or "" when absent.
func (c Content) Type() string {
	t, _ := c["type"].(string)
	return t
}

// String returns the string field name, or "".
func (c Content) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Link returns the id held by field name, which may be a bare id or an
// object with a "link" field.
func (c Content) Link(name string) string {
	return linkOf(c[name])
}

// Vote decodes a vote body. ok is false for non-vote content or a vote
// without a link. The value is clamped to its sign.
func (c Content) Vote() (Vote, bool) {
	if c.Type() != TypeVote {
		return Vote{}, false
	}
	body, _ := c["vote"].(map[string]any)
	if body == nil {
		return Vote{}, false
	}
	link := linkOf(body["link"])
	if link == "" {
		return Vote{}, false
	}
	return Vote{Link: link, Value: signOf(body["value"])}, true
}

// About decodes a naming assertion. The image may be an id string or an
// object with a link; both normalize to the id.
func (c Content) About() (About, bool) {
	if c.Type() != TypeAbout {
		return About{}, false
	}
	target := linkOf(c["about"])
	if target == "" {
		return About{}, false
	}
	return About{
		About: target,
		Name:  c.String("name"),
		Image: linkOf(c["image"]),
	}, true
}

// Project returns the project an issue or pull request is created under.
func (c Content) Project() string {
	switch c.Type() {
	case TypeIssue:
		if p := linkOf(c["project"]); p != "" {
			return p
		}
		return linkOf(c["repo"])
	case TypePullRequest:
		return linkOf(c["repo"])
	}
	return ""
}

// IssueUpdates returns the status changes listed under "issues". Entries
// without a link or an explicit boolean "open" are skipped.
func (c Content) IssueUpdates() []IssueUpdate {
	list, _ := c["issues"].([]any)
	if len(list) == 0 {
		return nil
	}

	var updates []IssueUpdate
	for _, raw := range list {
		entry, _ := raw.(map[string]any)
		if entry == nil {
			continue
		}
		link := linkOf(entry["link"])
		open, isBool := entry["open"].(bool)
		if link == "" || !isBool {
			continue
		}
		updates = append(updates, IssueUpdate{Link: link, Open: open})
	}
	return updates
}

// NewVote builds vote content.
func NewVote(target string, value int) Content {
	return Content{
		"type": TypeVote,
		"vote": map[string]any{"link": target, "value": value},
	}
}

// NewAbout builds a naming assertion. Empty name or image are omitted.
func NewAbout(target, name, image string) Content {
	c := Content{"type": TypeAbout, "about": target}
	if name != "" {
		c["name"] = name
	}
	if image != "" {
		c["image"] = image
	}
	return c
}

// NewIssue builds issue-creation content under project.
func NewIssue(project, title string) Content {
	return Content{"type": TypeIssue, "project": project, "title": title}
}

// NewPullRequest builds pull-request creation content under repo.
func NewPullRequest(repo, title string) Content {
	return Content{"type": TypePullRequest, "repo": repo, "title": title}
}

// NewIssueEdit builds content carrying status changes.
func NewIssueEdit(updates ...IssueUpdate) Content {
	list := make([]any, 0, len(updates))
	for _, u := range updates {
		list = append(list, map[string]any{"link": u.Link, "open": u.Open})
	}
	return Content{"type": TypeIssueEdit, "issues": list}
}

// linkOf accepts either a bare id or an object with a "link" field.
func linkOf(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		s, _ := val["link"].(string)
		return s
	}
	return ""
}

// signOf returns -1, 0 or +1 for a numeric value; non-numbers are 0.
func signOf(v any) int {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	switch {
	case f > 0:
		return 1
	case f < 0:
		return -1
	}
	return 0
}
