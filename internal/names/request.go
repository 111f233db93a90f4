package names

import (
	"fmt"
	"unicode/utf8"
)

// DefaultNameLength is the fallback truncation length in runes.
const DefaultNameLength = 20

// Request identifies one cached resolution. Resolution is relative to the
// viewer, so the viewer is part of the key.
type Request struct {
	Viewer string `json:"viewer,omitempty" yaml:"viewer,omitempty"`
	Target string `json:"target" yaml:"target"`
	// Owner is the identity that owns Target. Empty means Target owns
	// itself.
	Owner string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

// Normalize turns the loose forms callers pass around into a Request:
// a bare target id, a Request (or pointer), or a map with "target" and
// optional "owner" keys.
func Normalize(viewer string, target any) (Request, error) {
	var req Request
	switch t := target.(type) {
	case string:
		req = Request{Target: t}
	case Request:
		req = t
	case *Request:
		if t == nil {
			return Request{}, fmt.Errorf("normalize: nil request")
		}
		req = *t
	case map[string]string:
		req = Request{Target: t["target"], Owner: t["owner"]}
	case map[string]any:
		tgt, _ := t["target"].(string)
		owner, _ := t["owner"].(string)
		req = Request{Target: tgt, Owner: owner}
	default:
		return Request{}, fmt.Errorf("normalize: unsupported target %T", target)
	}

	if viewer != "" {
		req.Viewer = viewer
	}
	if req.Target == "" {
		return Request{}, fmt.Errorf("normalize: empty target")
	}
	if req.Owner == "" {
		req.Owner = req.Target
	}
	return req, nil
}

// Truncate returns id unchanged when it is shorter than n runes and
// otherwise its first n runes followed by an ellipsis.
func Truncate(id string, n int) string {
	if n <= 0 || utf8.RuneCountInString(id) < n {
		return id
	}
	return string([]rune(id)[:n]) + "…"
}
