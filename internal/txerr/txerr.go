package txerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure seen while talking to the ledger.
type Kind string

const (
	KindUnknown               Kind = "UNKNOWN"
	KindNotFound              Kind = "NOT_FOUND"
	KindUnauthorized          Kind = "UNAUTHORIZED"
	KindInvalidState          Kind = "INVALID_STATE"
	KindValidationFailed      Kind = "VALIDATION_FAILED"
	KindContractPaused        Kind = "CONTRACT_PAUSED"
	KindRateLimit             Kind = "RATE_LIMIT"
	KindUserRejected          Kind = "USER_REJECTED"
	KindInsufficientResources Kind = "INSUFFICIENT_RESOURCES"
	KindGasLimit              Kind = "GAS_LIMIT"
	KindEstimationFailed      Kind = "ESTIMATION_FAILED"
	KindDecodeError           Kind = "DECODE_ERROR"
)

// Kinds lists every kind, Unknown last.
var Kinds = []Kind{
	KindNotFound, KindUnauthorized, KindInvalidState, KindValidationFailed,
	KindContractPaused, KindRateLimit, KindUserRejected, KindInsufficientResources,
	KindGasLimit, KindEstimationFailed, KindDecodeError, KindUnknown,
}

var messages = map[Kind]string{
	KindNotFound:              "The repair request does not exist.",
	KindUnauthorized:          "You are not allowed to perform this action on the repair request.",
	KindInvalidState:          "The repair request is not in a state that allows this action.",
	KindValidationFailed:      "Some of the submitted values are invalid.",
	KindContractPaused:        "Repair requests are temporarily paused. Please try again later.",
	KindRateLimit:             "The network is busy. Please try again in a moment.",
	KindUserRejected:          "The transaction was declined in your wallet.",
	KindInsufficientResources: "Your wallet does not have enough funds to pay for this transaction.",
	KindGasLimit:              "The transaction ran out of gas. Please try again.",
	KindEstimationFailed:      "The transaction would fail, so it was not sent.",
	KindDecodeError:           "A ledger event could not be read.",
	KindUnknown:               "Something went wrong. Please try again.",
}

// Message returns the stable, user-facing text for k.
func Message(k Kind) string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[KindUnknown]
}

// Error is a classified ledger failure. Raw keeps the original text for
// logs; it is never shown to users.
type Error struct {
	// Kind is the category Classify assigned.
	Kind Kind

	// Op names the step that failed, e.g. "estimate" or "confirm".
	Op string

	// Reason is the revert name when the ledger gave one.
	Reason string

	// Raw is the unmodified error text.
	Raw string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Raw)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Raw)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels, so errors.Is(err, txerr.ErrRateLimit) works on
// any wrapped *Error of that kind.
func (e *Error) Is(target error) bool {
	var s *sentinel
	if errors.As(target, &s) {
		return s.kind == e.Kind
	}
	return false
}

// Message returns the user-facing text for e's kind.
func (e *Error) Message() string {
	return Message(e.Kind)
}

// Retryable reports whether retrying the same call can succeed without
// anything else changing. Only throttling qualifies.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimit
}

type sentinel struct{ kind Kind }

func (s *sentinel) Error() string { return string(s.kind) }

// Kind sentinels for errors.Is.
var (
	ErrNotFound              error = &sentinel{KindNotFound}
	ErrUnauthorized          error = &sentinel{KindUnauthorized}
	ErrInvalidState          error = &sentinel{KindInvalidState}
	ErrValidationFailed      error = &sentinel{KindValidationFailed}
	ErrContractPaused        error = &sentinel{KindContractPaused}
	ErrRateLimit             error = &sentinel{KindRateLimit}
	ErrUserRejected          error = &sentinel{KindUserRejected}
	ErrInsufficientResources error = &sentinel{KindInsufficientResources}
	ErrGasLimit              error = &sentinel{KindGasLimit}
	ErrEstimationFailed      error = &sentinel{KindEstimationFailed}
	ErrDecodeError           error = &sentinel{KindDecodeError}
	ErrUnknown               error = &sentinel{KindUnknown}
)

// KindOf returns the kind of a classified error anywhere in err's chain,
// or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a classified throttling failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRateLimit
}
