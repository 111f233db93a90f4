// Package engine wires the view aggregates over one message log and
// exposes the queries the rendering layer needs.
//
// ARCHITECTURE:
//
// One Feed turns the log backend into subscriptions. Each aggregate owns
// its subscriptions and folds them on its own goroutines:
//   - votes: one live subscription per queried target
//   - names: one live subscription per cached (viewer, target, owner)
//   - issues: three live subscriptions shared by every project
//
// Aggregates start lazily on the first query for a key and stay live
// until evicted or the engine is closed. Nothing is persisted; a restart
// replays the log.
//
// QUERY RESULTS:
//
// A query never answers with a number before the history behind it has
// been replayed. Tally waits (bounded by the caller's context) and returns
// a PENDING QueryError when the context ends first. OpenCount never
// blocks and reports ok=false instead. Name never fails; it falls back to
// the truncated id.
//
// Thread-safety model:
//   - every exported method is safe from any goroutine
//   - Close() must be called once, after which queries fail with CLOSED
package engine
