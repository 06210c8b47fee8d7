// Package submit sends mutating calls to the ledger and waits for them to
// be included.
//
// A submission moves through
//
//	Idle → Estimating → Submitting → AwaitingConfirmation → Confirmed | Failed
//
// Estimating probes the node and estimates gas; the limit sent is always
// GasMultiplierPct percent of the estimate. Submitting asks the wallet to
// approve and sends the transaction. AwaitingConfirmation polls for the
// receipt and cannot be cancelled by the caller.
//
// Only throttling is retried, with exponential backoff doubling from
// Options.BackoffBase for at most Options.MaxAttempts tries. Every other
// failure surfaces at once, classified by txerr.
//
// Tracker records one PendingAction per repair request between submission
// and the arrival of the event that confirms it.
package submit
