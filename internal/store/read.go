package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/viewfold/internal/logsource"
	"github.com/roach88/viewfold/internal/msg"
)

const selectMessage = `SELECT m.seq, m.key, m.author, m.timestamp, m.content FROM messages m`

// record is one materialized row.
type record struct {
	seq int64
	msg *msg.Message
}

// Head returns the highest seq, or 0 for an empty log.
func (s *Store) Head(ctx context.Context) (int64, error) {
	var head int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM messages`).Scan(&head); err != nil {
		return 0, fmt.Errorf("read head: %w", err)
	}
	return head, nil
}

// Count returns the number of stored messages.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Get returns the message with the given key.
// Returns an error wrapping logsource.ErrNotFound for unknown keys.
func (s *Store) Get(ctx context.Context, key string) (*msg.Message, error) {
	row := s.db.QueryRowContext(ctx, selectMessage+` WHERE m.key = ?`, key)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", key, logsource.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return rec.msg, nil
}

// Scan calls fn for every message with after < seq <= upTo in seq order.
// Rows are read in batches; fn never runs while a query is open.
func (s *Store) Scan(ctx context.Context, after, upTo int64, fn func(seq int64, m *msg.Message) error) error {
	return s.scanBatches(ctx, after, fn, func(cursor int64) (*sql.Rows, error) {
		return s.db.QueryContext(ctx, selectMessage+`
			WHERE m.seq > ? AND m.seq <= ?
			ORDER BY m.seq ASC
			LIMIT ?
		`, cursor, upTo, scanBatch)
	})
}

// ScanLinks is Scan narrowed to messages linking to dest, with relation
// rel unless rel is empty.
func (s *Store) ScanLinks(ctx context.Context, rel, dest string, after, upTo int64, fn func(seq int64, m *msg.Message) error) error {
	return s.scanBatches(ctx, after, fn, func(cursor int64) (*sql.Rows, error) {
		return s.db.QueryContext(ctx, selectMessage+`
			WHERE m.seq IN (
				SELECT l.seq FROM links l
				WHERE l.dest = ? AND (? = '' OR l.rel = ?) AND l.seq > ? AND l.seq <= ?
			)
			ORDER BY m.seq ASC
			LIMIT ?
		`, dest, rel, rel, cursor, upTo, scanBatch)
	})
}

// scanBatches pages through query results, advancing the cursor to the
// last seen seq, until a page comes back short.
func (s *Store) scanBatches(
	ctx context.Context,
	after int64,
	fn func(int64, *msg.Message) error,
	query func(cursor int64) (*sql.Rows, error),
) error {
	cursor := after
	for {
		batch, err := readBatch(query(cursor))
		if err != nil {
			return fmt.Errorf("scan after %d: %w", cursor, err)
		}

		for _, rec := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(rec.seq, rec.msg); err != nil {
				return err
			}
			cursor = rec.seq
		}

		if len(batch) < scanBatch {
			return nil
		}
	}
}

func readBatch(rows *sql.Rows, err error) ([]record, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return batch, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record, error) {
	var (
		rec     record
		m       msg.Message
		content string
	)
	if err := row.Scan(&rec.seq, &m.Key, &m.Author, &m.Timestamp, &content); err != nil {
		return record{}, err
	}

	c, err := msg.DecodeContent([]byte(content))
	if err != nil {
		return record{}, fmt.Errorf("message %s: %w", m.Key, err)
	}
	m.Content = c
	rec.msg = &m
	return rec, nil
}
