package ledger

import "errors"

// Revert is a failure raised by the contract. The whole call is rolled back
// when one is returned.
//
// Error renders the ledger's custom error signature, e.g. "CallerIsNotLandlord()",
// which is all a client ever sees of it.
type Revert struct {
	Name    string
	Message string
}

func (r *Revert) Error() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Name + "()"
}

func revert(name string) *Revert {
	return &Revert{Name: name}
}

// Contract reverts.
var (
	ErrZeroAddress               = revert("ZeroAddress")
	ErrInvalidPropertyID         = revert("InvalidPropertyId")
	ErrInvalidDescriptionHash    = revert("InvalidDescriptionHash")
	ErrInvalidWorkDetailsHash    = revert("InvalidWorkDetailsHash")
	ErrCallerIsNotTenant         = revert("CallerIsNotTenant")
	ErrCallerIsNotLandlord       = revert("CallerIsNotLandlord")
	ErrCallerIsNotAdmin          = revert("CallerIsNotAdmin")
	ErrRepairRequestDoesNotExist = revert("RepairRequestDoesNotExist")
	ErrRequestIsCancelled        = revert("RequestIsCancelled")
	ErrInvalidStatusTransition   = revert("InvalidStatusTransition")
	ErrRequestIsNotPending       = revert("RequestIsNotPending")
	ErrRequestNotCompleted       = revert("RequestNotCompleted")
	ErrEnforcedPause             = revert("EnforcedPause")
	ErrExpectedPause             = revert("ExpectedPause")
	ErrInvalidImplementation     = revert("InvalidImplementation")

	ErrPaymentsRejected = &Revert{
		Name:    "PaymentsRejected",
		Message: "RepairRequest: contract does not accept payments",
	}
)

// Reverts lists every revert the contract can raise.
var Reverts = []*Revert{
	ErrZeroAddress, ErrInvalidPropertyID, ErrInvalidDescriptionHash, ErrInvalidWorkDetailsHash,
	ErrCallerIsNotTenant, ErrCallerIsNotLandlord, ErrCallerIsNotAdmin,
	ErrRepairRequestDoesNotExist, ErrRequestIsCancelled, ErrInvalidStatusTransition,
	ErrRequestIsNotPending, ErrRequestNotCompleted, ErrEnforcedPause, ErrExpectedPause,
	ErrInvalidImplementation, ErrPaymentsRejected,
}

// IsRevert reports whether err carries a contract revert.
func IsRevert(err error) bool {
	var r *Revert
	return errors.As(err, &r)
}
