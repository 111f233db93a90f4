package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/viewfold/internal/msg"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustAppend appends a message and returns its seq.
func mustAppend(t *testing.T, s *Store, m *msg.Message) int64 {
	t.Helper()
	seq, err := s.Append(context.Background(), m)
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	return seq
}

// collect scans (after, upTo] and returns the keys seen.
func collect(t *testing.T, scan func(fn func(int64, *msg.Message) error) error) []string {
	t.Helper()
	var keys []string
	if err := scan(func(_ int64, m *msg.Message) error {
		keys = append(keys, m.Key)
		return nil
	}); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	return keys
}
