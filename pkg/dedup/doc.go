// Package dedup drops consecutive duplicate messages.
//
// Push streams frequently re-deliver the same payload, for example after a
// reconnect that resumes from an older cursor. A Deduplicator sits between a
// stream and its consumer and forwards a message only when it differs from
// the previous one seen by that instance.
//
// Messages are compared by a BLAKE2b-256 digest of their canonical CBOR
// encoding, so map key order and other encoding details do not matter.
// Use one Deduplicator per subscription; instances share no state.
package dedup
