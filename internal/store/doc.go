// Package store provides the SQLite projection of repair requests.
//
// The projection is a fast, queryable copy of the ledger, eventually
// consistent with it. It holds three tables:
//   - repair_requests: one row per request, ledger fields plus locally-owned details
//   - applied_events: every applied event keyed by its structural dedup key
//   - sync_checkpoints: last synchronized ledger position per sync scope
//
// # Write Rules
//
// Idempotency: Apply inserts the event key with ON CONFLICT DO NOTHING in the
// same transaction as the projection write, so a redelivered event changes
// nothing.
//
// Last writer wins: status, description hash and work details hash each
// remember the ledger position (timestamp, block, index) of the event that
// wrote them. An older event never overwrites a newer one, whatever order
// events arrive in.
//
// Local ownership: description, urgency and attachments are written only by
// SetLocalDetails.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
