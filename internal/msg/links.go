package msg

// Relation names used for link queries.
const (
	RelVote    = "vote"
	RelAbout   = "about"
	RelProject = "project"
	RelRepo    = "repo"
	RelIssues  = "issues"
)

// Link is one outgoing reference from a message's content to another id.
type Link struct {
	Rel  string
	Dest string
}

// Links extracts the outgoing links the view folds query by. The result
// order is stable for a given content.
func (c Content) Links() []Link {
	var links []Link
	add := func(rel, dest string) {
		if dest != "" {
			links = append(links, Link{Rel: rel, Dest: dest})
		}
	}

	switch c.Type() {
	case TypeVote:
		if v, ok := c.Vote(); ok {
			add(RelVote, v.Link)
		}
	case TypeAbout:
		add(RelAbout, linkOf(c["about"]))
	case TypeIssue:
		add(RelProject, linkOf(c["project"]))
		add(RelRepo, linkOf(c["repo"]))
	case TypePullRequest:
		add(RelRepo, linkOf(c["repo"]))
	}

	// Status changes may ride on any content type.
	for _, u := range c.IssueUpdates() {
		add(RelIssues, u.Link)
	}

	return links
}

// HasLink reports whether the content links to dest (any dest when empty)
// with relation rel (any relation when empty).
func (c Content) HasLink(rel, dest string) bool {
	for _, l := range c.Links() {
		if (rel == "" || l.Rel == rel) && (dest == "" || l.Dest == dest) {
			return true
		}
	}
	return false
}
