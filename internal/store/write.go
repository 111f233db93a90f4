package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/viewfold/internal/msg"
)

// linkWriter is satisfied by *sql.DB and *sql.Tx.
type linkWriter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append inserts a message and its links, returning the message's seq.
// Uses ON CONFLICT(key) DO NOTHING for idempotency - a duplicate key
// returns the seq of the first append.
//
// Content is stored as canonical JSON so re-reading yields the same key.
func (s *Store) Append(ctx context.Context, m *msg.Message) (int64, error) {
	if m == nil || m.Key == "" {
		return 0, fmt.Errorf("append: message without key")
	}

	content, err := msg.MarshalCanonical(m.Content)
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", m.Key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append %s: begin tx: %w", m.Key, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (key, author, timestamp, type, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, m.Key, m.Author, m.Timestamp, m.Type(), string(content))
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", m.Key, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("append %s: rows affected: %w", m.Key, err)
	}

	var seq int64
	if affected == 0 {
		if err := tx.QueryRowContext(ctx, `SELECT seq FROM messages WHERE key = ?`, m.Key).Scan(&seq); err != nil {
			return 0, fmt.Errorf("append %s: existing seq: %w", m.Key, err)
		}
		return seq, nil
	}

	if seq, err = result.LastInsertId(); err != nil {
		return 0, fmt.Errorf("append %s: last insert id: %w", m.Key, err)
	}

	if err := insertLinks(ctx, tx, seq, m.Content); err != nil {
		return 0, fmt.Errorf("append %s: %w", m.Key, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append %s: commit: %w", m.Key, err)
	}

	return seq, nil
}

// insertLinks records the content links of the message at seq.
func insertLinks(ctx context.Context, tx linkWriter, seq int64, content msg.Content) error {
	for _, l := range content.Links() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO links (seq, rel, dest) VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, seq, l.Rel, l.Dest)
		if err != nil {
			return fmt.Errorf("insert link %s->%s: %w", l.Rel, l.Dest, err)
		}
	}
	return nil
}
