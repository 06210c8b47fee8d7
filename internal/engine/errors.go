package engine

import (
	"errors"
	"fmt"
)

// ErrSessionClosed is returned by operations on a stopped session.
var ErrSessionClosed = errors.New("sync session closed")

// SyncError is a failure of a session's ledger queries. Err is classified
// by txerr; a RateLimit cause is worth retrying.
type SyncError struct {
	// Code identifies the failing step.
	Code SyncErrorCode

	// Scope is the session scope, as in Scope.String.
	Scope string

	Err error
}

// SyncErrorCode categorizes session failures.
type SyncErrorCode string

const (
	// ErrCodeBackfill means the historical log query failed.
	ErrCodeBackfill SyncErrorCode = "BACKFILL_FAILED"

	// ErrCodeSubscribe means the live subscription could not be opened.
	ErrCodeSubscribe SyncErrorCode = "SUBSCRIBE_FAILED"

	// ErrCodeResubscribe means the live subscription dropped and could not
	// be restored within the retry budget.
	ErrCodeResubscribe SyncErrorCode = "RESUBSCRIBE_FAILED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Scope, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap returns the classified cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsBackfillError reports whether err is a failed backfill.
func IsBackfillError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeBackfill
	}
	return false
}

// IsSubscribeError reports whether err is a failed subscription, initial or
// restored.
func IsSubscribeError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeSubscribe || se.Code == ErrCodeResubscribe
	}
	return false
}
