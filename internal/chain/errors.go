package chain

import (
	"errors"
	"fmt"
)

// RPCError is a JSON-RPC style error as returned by a ledger node or a
// wallet. Clients only get the code and the message; nothing else is
// structured.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return e.Message
}

// ErrorCode returns the JSON-RPC error code.
func (e *RPCError) ErrorCode() int {
	return e.Code
}

// Error codes seen from nodes and wallets.
const (
	CodeExecutionReverted = 3
	CodeServerError       = -32000
	CodeLimitExceeded     = -32005
	CodeTooManyRequests   = 429
	CodeUserRejected      = 4001
)

var (
	// ErrNotFound is returned for a receipt of a transaction that has not
	// been included yet.
	ErrNotFound = errors.New("not found")

	// ErrConnectionLost is delivered on a subscription's error channel when
	// the node drops it.
	ErrConnectionLost = errors.New("websocket: close 1006 (abnormal closure): unexpected EOF")
)

func throttled() error {
	return &RPCError{Code: CodeTooManyRequests, Message: "429 Too Many Requests: rate limit exceeded"}
}

func reverted(err error) error {
	return &RPCError{Code: CodeExecutionReverted, Message: fmt.Sprintf("execution reverted: %s", err)}
}

func serverError(format string, args ...any) error {
	return &RPCError{Code: CodeServerError, Message: fmt.Sprintf(format, args...)}
}
