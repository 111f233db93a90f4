// Package store provides a SQLite-backed append-only message log.
//
// The store implements logsource.Backend and logsource.LinkScanner, so a
// logsource.Feed over it serves historical replay straight from disk:
//   - messages: one row per message, seq assigned on first append
//   - links: (rel, dest) pairs extracted from content, indexed for
//     per-target queries such as "votes on X" or "about X"
//
// # Ordering
//
// All reads are ORDER BY seq ASC. seq is the append position and is the
// only ordering the store guarantees; message timestamps are author
// supplied and never used for ordering.
//
// # Idempotency
//
// Appending a key that already exists is a no-op returning the original
// seq, so re-importing the same replicated messages is safe.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
