// Package msg defines the immutable log message model consumed by the view
// engine.
//
// A Message is one signed entry of the append-only, peer-replicated log:
// a content-addressed key, the author identity, an author-supplied timestamp
// and a content object tagged by its "type" field. This package contains
// type definitions, content accessors, link extraction and key derivation.
// Other internal packages import msg; msg imports nothing internal.
//
// Key design constraints:
//   - Messages are never mutated after construction
//   - Keys are derived from canonical JSON (sorted keys, NFC strings,
//     integers only) so the same content always yields the same key
//   - Content is kept as a loose object; typed views (Vote, About, ...) are
//     decoded on demand and tolerate missing or malformed fields
package msg
