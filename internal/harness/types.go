package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/store"
	"github.com/roach88/repairsync/internal/testutil"
)

// Step outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// StepTrace records what one step did.
type StepTrace struct {
	Step      int    `json:"step"`
	As        string `json:"as,omitempty"`
	Call      string `json:"call"`
	RequestID uint64 `json:"request_id,omitempty"`
	Outcome   string `json:"outcome"`

	// Kind and Reason classify a failed step.
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason,omitempty"`

	// Events lists the event types the transaction emitted.
	Events []string `json:"events,omitempty"`

	// Status is the ledger status read by a "get" step.
	Status string `json:"status,omitempty"`
}

// EventTrace is one event as the synchronization session saw it, in ledger
// order.
type EventTrace struct {
	Type      string `json:"type"`
	RequestID uint64 `json:"request_id"`
	Timestamp uint64 `json:"timestamp"`
	Block     uint64 `json:"block"`
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
	NewHash   string `json:"new_hash,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	Steps  []StepTrace  `json:"steps"`
	Events []EventTrace `json:"events"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Projection is the final projected state, ordered by request id.
	Projection []store.Record `json:"projection"`

	// TraceHash fingerprints the golden snapshot of this run.
	TraceHash string `json:"trace_hash"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepTrace{},
		Events: []EventTrace{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Built-in account names.
const (
	AccountAdmin    = "admin"
	AccountTenant   = "tenant"
	AccountLandlord = "landlord"
)

// accounts maps scenario account names to ledger addresses.
type accounts map[string]ledger.Address

func newAccounts(extra []string) (accounts, error) {
	a := accounts{
		AccountAdmin:    testutil.Address(0xad),
		AccountTenant:   testutil.Address(1),
		AccountLandlord: testutil.Address(2),
	}
	for i, name := range extra {
		if name == "" || strings.HasPrefix(name, "0x") {
			return nil, fmt.Errorf("accounts[%d]: invalid name %q", i, name)
		}
		if _, dup := a[name]; dup {
			return nil, fmt.Errorf("accounts[%d]: duplicate name %q", i, name)
		}
		a[name] = testutil.Address(10 + i)
	}
	return a, nil
}

// resolve maps an account name or a literal 0x address to an address.
func (a accounts) resolve(who string) (ledger.Address, error) {
	if strings.HasPrefix(who, "0x") {
		return ledger.ParseAddress(who)
	}
	addr, ok := a[who]
	if !ok {
		return "", fmt.Errorf("unknown account %q", who)
	}
	return addr, nil
}

// name returns the scenario name of addr, or its short form if it has none.
func (a accounts) name(addr ledger.Address) string {
	for n, v := range a {
		if v == addr {
			return n
		}
	}
	return addr.Short()
}

// sorted returns every address, ordered by name.
func (a accounts) sorted() []ledger.Address {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	slices.Sort(names)
	out := make([]ledger.Address, len(names))
	for i, n := range names {
		out[i] = a[n]
	}
	return out
}
