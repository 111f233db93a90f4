// Package logsource adapts the append-only message log into typed,
// cancellable subscriptions.
//
// A subscription delivers, in order:
//  1. historical messages matching the filter, in append order
//  2. exactly one Sync item marking "replay complete"
//  3. live messages matching the filter, in arrival order (Live only)
//
// # Cutover
//
// When a subscription starts, the Feed snapshots the log head sequence H.
// History is every matching message with seq <= H; live delivery resumes
// at seq H+1 and reads strictly increasing sequences after that. The
// boundary therefore has no gap and no duplicate, regardless of how many
// appends race with the snapshot.
//
// # Concurrency
//
// Each subscription runs in its own goroutine and owns its channel. Closing
// one subscription never affects another reading the same log. Backends
// are shared and must be safe for concurrent use.
package logsource
