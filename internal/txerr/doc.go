// Package txerr classifies failures from the ledger, the node and the
// wallet into a small set of kinds with stable user-facing messages.
//
// Clients of a ledger only ever see an error string and sometimes a numeric
// code. Classify inspects both once, at the boundary where the failure
// enters the application; everything downstream switches on Kind instead
// of matching text again.
//
//	err = txerr.Classify("estimate", err)
//	if errors.Is(err, txerr.ErrRateLimit) { ... }
package txerr
