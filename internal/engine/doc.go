// Package engine keeps the projection consistent with the ledger.
//
// A Session observes one Scope (a repair request, or every request of one
// initiator) from two producers:
//
//   - a live log subscription, opened first so nothing mined during the
//     backfill is missed;
//   - a one-time backfill of every matching log from genesis.
//
// Both feed one FIFO queue drained by a single writer goroutine. The
// writer decodes each log, drops events whose key it has already seen in
// this session, and applies the rest to the projection, which
// deduplicates again across sessions by the same key. The merge is a set
// union: delivering an event twice, from either source, is a no-op.
//
// Event keys hash the event type, ledger timestamp and canonical payload
// (see ir.EventKey), so they do not depend on field order or on which
// producer delivered the log.
//
// Ordering: the projection compares ledger positions (timestamp, block,
// log index) before overwriting a field, so the final state does not
// depend on arrival order. Events() returns the session view sorted the
// same way.
//
// Failures: a log that cannot be decoded is counted, logged and skipped.
// A failed backfill query is returned to the caller. A dropped
// subscription is restored with exponential backoff and followed by a
// backfill from the persisted checkpoint to cover the gap.
package engine
