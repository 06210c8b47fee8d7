package txerr

import (
	"errors"
	"regexp"
	"strings"
)

// coder is satisfied by RPC errors that carry a JSON-RPC or wallet code.
type coder interface {
	ErrorCode() int
}

// Codes a node or wallet attaches to an error.
const (
	codeTooManyRequests = 429
	codeLimitExceeded   = -32005
	codeUserRejected    = 4001
)

// reverts maps custom error names raised by the contract to their kind.
var reverts = map[string]Kind{
	"RepairRequestDoesNotExist": KindNotFound,

	"CallerIsNotTenant":   KindUnauthorized,
	"CallerIsNotLandlord": KindUnauthorized,
	"CallerIsNotAdmin":    KindUnauthorized,

	"InvalidStatusTransition": KindInvalidState,
	"RequestIsNotPending":     KindInvalidState,
	"RequestNotCompleted":     KindInvalidState,
	"RequestIsCancelled":      KindInvalidState,
	"ExpectedPause":           KindInvalidState,

	"ZeroAddress":            KindValidationFailed,
	"InvalidPropertyId":      KindValidationFailed,
	"InvalidDescriptionHash": KindValidationFailed,
	"InvalidWorkDetailsHash": KindValidationFailed,
	"InvalidImplementation":  KindValidationFailed,
	"PaymentsRejected":       KindValidationFailed,

	"EnforcedPause": KindContractPaused,
}

// phrases maps message fragments to kinds, checked in order after codes and
// revert names. Matching is case-insensitive.
var phrases = []struct {
	fragment string
	kind     Kind
	reason   string
}{
	{"does not accept payments", KindValidationFailed, "PaymentsRejected"},
	{"too many requests", KindRateLimit, ""},
	{"rate limit", KindRateLimit, ""},
	{"user denied", KindUserRejected, ""},
	{"user rejected", KindUserRejected, ""},
	{"insufficient funds", KindInsufficientResources, ""},
	{"out of gas", KindGasLimit, ""},
	{"intrinsic gas too low", KindGasLimit, ""},
	{"exceeds block gas limit", KindGasLimit, ""},
	{"gas required exceeds", KindGasLimit, ""},
	{"cannot estimate gas", KindEstimationFailed, ""},
	{"execution reverted", KindEstimationFailed, ""},
	{"malformed", KindDecodeError, ""},
	{"unmarshal", KindDecodeError, ""},
	{"invalid character", KindDecodeError, ""},
	{"decode", KindDecodeError, ""},
}

// revertName finds a custom error signature such as "CallerIsNotLandlord()".
var revertName = regexp.MustCompile(`\b([A-Z][A-Za-z]+)\(\)`)

// Classify maps err to a *Error. It only looks at what a client can observe:
// the error text and, when present, an RPC error code. An err that is
// already classified is returned unchanged; nil stays nil.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var done *Error
	if errors.As(err, &done) {
		return err
	}

	raw := err.Error()
	kind, reason := classify(err, raw)
	return &Error{Kind: kind, Op: op, Reason: reason, Raw: raw, Err: err}
}

// ClassifyReason classifies a failure reported only as text, such as the
// revert reason on a receipt.
func ClassifyReason(op, reason string) *Error {
	kind, name := classify(nil, reason)
	return &Error{Kind: kind, Op: op, Reason: name, Raw: reason, Err: errors.New(reason)}
}

func classify(err error, raw string) (Kind, string) {
	var c coder
	if err != nil && errors.As(err, &c) {
		switch c.ErrorCode() {
		case codeTooManyRequests, codeLimitExceeded:
			return KindRateLimit, ""
		case codeUserRejected:
			return KindUserRejected, ""
		}
	}

	for _, m := range revertName.FindAllStringSubmatch(raw, -1) {
		if kind, ok := reverts[m[1]]; ok {
			return kind, m[1]
		}
	}

	lower := strings.ToLower(raw)
	for _, p := range phrases {
		if strings.Contains(lower, p.fragment) {
			return p.kind, p.reason
		}
	}
	return KindUnknown, ""
}
