package ledger

// Predicate decides whether caller may perform an operation on r.
type Predicate func(caller Address, r RepairRequest) bool

// IsInitiator allows only the tenant who created the request.
func IsInitiator(caller Address, r RepairRequest) bool {
	return !caller.IsZero() && caller == r.Initiator
}

// IsLandlord allows only the request's counterparty.
func IsLandlord(caller Address, r RepairRequest) bool {
	return !caller.IsZero() && caller == r.Landlord
}

// Per-operation role checks.
var (
	CanUpdateDescription Predicate = IsInitiator
	CanUpdateWorkDetails Predicate = IsLandlord
	CanUpdateStatus      Predicate = IsLandlord
	CanWithdraw          Predicate = IsInitiator
	CanApproveWork       Predicate = IsInitiator
)
