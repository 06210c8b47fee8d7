package ledger

import "fmt"

// Method names a contract entry point as it appears in transaction data.
type Method string

const (
	MethodCreate            Method = "create"
	MethodUpdateDescription Method = "updateDescription"
	MethodUpdateWorkDetails Method = "updateWorkDetails"
	MethodUpdateStatus      Method = "updateStatus"
	MethodWithdraw          Method = "withdraw"
	MethodApproveWork       Method = "approveWork"
	MethodPause             Method = "pause"
	MethodUnpause           Method = "unpause"
	MethodGrantRole         Method = "grantRole"
	MethodRevokeRole        Method = "revokeRole"
	MethodUpgrade           Method = "upgradeTo"
)

// Invocation is the decoded calldata of a transaction: a method plus its
// arguments. Fields irrelevant to Method are ignored.
type Invocation struct {
	Method          Method  `json:"method,omitempty"`
	RequestID       uint64  `json:"request_id,omitempty"`
	PropertyID      string  `json:"property_id,omitempty"`
	DescriptionHash string  `json:"description_hash,omitempty"`
	Landlord        Address `json:"landlord,omitempty"`
	Hash            string  `json:"hash,omitempty"`
	Status          Status  `json:"status,omitempty"`
	Accepted        bool    `json:"accepted,omitempty"`
	Role            Role    `json:"role,omitempty"`
	Account         Address `json:"account,omitempty"`
	Implementation  string  `json:"implementation,omitempty"`
}

func (inv Invocation) String() string {
	switch inv.Method {
	case MethodCreate:
		return fmt.Sprintf("create(%q, %q, %s)", inv.PropertyID, inv.DescriptionHash, inv.Landlord)
	case MethodUpdateDescription, MethodUpdateWorkDetails:
		return fmt.Sprintf("%s(%d, %q)", inv.Method, inv.RequestID, inv.Hash)
	case MethodUpdateStatus:
		return fmt.Sprintf("updateStatus(%d, %s)", inv.RequestID, inv.Status)
	case MethodWithdraw:
		return fmt.Sprintf("withdraw(%d)", inv.RequestID)
	case MethodApproveWork:
		return fmt.Sprintf("approveWork(%d, %t)", inv.RequestID, inv.Accepted)
	case MethodGrantRole, MethodRevokeRole:
		return fmt.Sprintf("%s(%s, %s)", inv.Method, inv.Role, inv.Account)
	case MethodUpgrade:
		return fmt.Sprintf("upgradeTo(%q)", inv.Implementation)
	case "":
		return "receive()"
	}
	return string(inv.Method) + "()"
}

// Invoke dispatches inv to its entry point. A transaction without a method
// reaches the receive path, an unknown method the fallback path.
func (c *Contract) Invoke(call Call, inv Invocation) ([]Event, error) {
	one := func(e Event, err error) ([]Event, error) {
		if err != nil {
			return nil, err
		}
		return []Event{e}, nil
	}

	switch inv.Method {
	case MethodCreate:
		return one(c.Create(call, inv.PropertyID, inv.DescriptionHash, inv.Landlord))
	case MethodUpdateDescription:
		return one(c.UpdateDescription(call, inv.RequestID, inv.Hash))
	case MethodUpdateWorkDetails:
		return one(c.UpdateWorkDetails(call, inv.RequestID, inv.Hash))
	case MethodUpdateStatus:
		return one(c.UpdateStatus(call, inv.RequestID, inv.Status))
	case MethodWithdraw:
		return one(c.Withdraw(call, inv.RequestID))
	case MethodApproveWork:
		return one(c.ApproveWork(call, inv.RequestID, inv.Accepted))
	case MethodPause:
		return one(c.Pause(call))
	case MethodUnpause:
		return one(c.Unpause(call))
	case MethodGrantRole:
		return c.GrantRole(call, inv.Role, inv.Account)
	case MethodRevokeRole:
		return c.RevokeRole(call, inv.Role, inv.Account)
	case MethodUpgrade:
		return one(c.Upgrade(call, inv.Implementation))
	case "":
		return nil, c.Receive(call)
	default:
		return nil, c.Fallback(call)
	}
}
