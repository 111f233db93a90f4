package msg

import (
	"fmt"
	"strings"
)

// Message is one immutable entry of the log.
type Message struct {
	Key       string  `json:"key" yaml:"key"`
	Author    string  `json:"author" yaml:"author"`
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Content   Content `json:"content" yaml:"content"`
}

// New builds a message and derives its content-addressed key.
func New(author string, timestamp int64, content Content) (*Message, error) {
	if author == "" {
		return nil, fmt.Errorf("new message: empty author")
	}
	if content.Type() == "" {
		return nil, fmt.Errorf("new message: content has no type")
	}

	key, err := Key(author, timestamp, content)
	if err != nil {
		return nil, fmt.Errorf("new message: %w", err)
	}

	return &Message{
		Key:       key,
		Author:    author,
		Timestamp: timestamp,
		Content:   content,
	}, nil
}

// MustNew is New for tests and fixtures with known-good input.
func MustNew(author string, timestamp int64, content Content) *Message {
	m, err := New(author, timestamp, content)
	if err != nil {
		panic(err)
	}
	return m
}

// Type returns the content type tag.
func (m *Message) Type() string {
	if m == nil {
		return ""
	}
	return m.Content.Type()
}

// Links returns the outgoing links of the message content.
func (m *Message) Links() []Link {
	if m == nil {
		return nil
	}
	return m.Content.Links()
}

// IsMessageID reports whether id looks like a message key.
func IsMessageID(id string) bool {
	return strings.HasPrefix(id, "%")
}

// IsFeedID reports whether id looks like an identity (feed) id.
func IsFeedID(id string) bool {
	return strings.HasPrefix(id, "@")
}
