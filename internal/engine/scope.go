package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/repairsync/internal/chain"
	"github.com/roach88/repairsync/internal/ledger"
)

// Scope selects the events a session observes: those of one repair
// request, or those of every request opened by one initiator. Exactly one
// field is set.
type Scope struct {
	RequestID uint64
	Initiator ledger.Address
}

// RequestScope observes a single repair request.
func RequestScope(id uint64) Scope {
	return Scope{RequestID: id}
}

// InitiatorScope observes every request opened by initiator.
func InitiatorScope(initiator ledger.Address) Scope {
	return Scope{Initiator: initiator}
}

// Validate checks that exactly one selector is set.
func (s Scope) Validate() error {
	switch {
	case s.RequestID == 0 && s.Initiator == "":
		return errors.New("scope: request id or initiator is required")
	case s.RequestID != 0 && s.Initiator != "":
		return errors.New("scope: request id and initiator are mutually exclusive")
	case s.Initiator != "" && s.Initiator.IsZero():
		return errors.New("scope: initiator must not be the zero address")
	}
	return nil
}

// String is also the checkpoint key of the scope.
func (s Scope) String() string {
	if s.RequestID != 0 {
		return fmt.Sprintf("request:%d", s.RequestID)
	}
	return "initiator:" + s.Initiator.String()
}

// Filter returns the log filter for the scope, starting at from.
func (s Scope) Filter(from uint64) chain.Filter {
	return chain.Filter{
		RequestID:     s.RequestID,
		Initiator:     s.Initiator,
		FromTimestamp: from,
		Topics:        ledger.RepairEventTypes,
	}
}
