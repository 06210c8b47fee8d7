// Package ledger implements the repair request contract: the authoritative
// record of every request, the lifecycle it may follow, who may drive each
// edge, and the access control gate in front of it.
//
// Lifecycle:
//
//	Pending ──(landlord)──▶ InProgress ──(landlord)──▶ Completed
//	Pending ──(landlord)──▶ Rejected                      [terminal]
//	Pending ──(tenant)────▶ Cancelled                     [terminal]
//	Completed ──(tenant)──▶ Accepted | Refused            [terminal]
//
// Checks run in a fixed order on every mutator: value transfer, emergency
// stop, existence, caller role, cancellation, then the operation's own
// status and input rules. The first failing check decides the revert.
//
// Each successful mutation emits exactly one Event. Events are the only
// channel through which off-ledger state learns of changes.
package ledger
