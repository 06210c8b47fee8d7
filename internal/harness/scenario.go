package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/repairsync/internal/chain"
	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/txerr"
)

// Scenario is a scripted run of repair request actions against a fresh
// ledger, followed by assertions on the ledger, the projection and the
// synchronized event stream.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Accounts declares extra account names beyond the built-in admin,
	// tenant and landlord.
	Accounts []string `yaml:"accounts,omitempty"`

	// Sync selects what the synchronization session observes. Defaults to
	// every request initiated by tenant.
	Sync *SyncSpec `yaml:"sync,omitempty"`

	// MaxAttempts pins the submission retry budget for scenarios whose
	// expectations depend on it. Zero takes the run's setting.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Steps run in order, one ledger second apart.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the projection has caught up.
	Assertions []Assertion `yaml:"assertions"`
}

// SyncSpec is the scope of the scenario's synchronization session. Exactly
// one field is set.
type SyncSpec struct {
	Initiator string `yaml:"initiator,omitempty"`
	Request   uint64 `yaml:"request,omitempty"`
}

// Step is one call made by one account.
type Step struct {
	// As names the calling account.
	As string `yaml:"as"`

	// Call is a contract method ("create", "updateStatus", ...) or "get"
	// for a direct ledger read.
	Call string `yaml:"call"`

	Args StepArgs `yaml:"args,omitempty"`

	// Faults are injected just before the call.
	Faults *Faults `yaml:"faults,omitempty"`

	// Expect describes the expected failure. A step without Expect must
	// succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// StepArgs are the call arguments. Account-valued fields take an account
// name or a literal address.
type StepArgs struct {
	ID              uint64 `yaml:"id,omitempty"`
	PropertyID      string `yaml:"property_id,omitempty"`
	DescriptionHash string `yaml:"description_hash,omitempty"`
	Landlord        string `yaml:"landlord,omitempty"`
	Hash            string `yaml:"hash,omitempty"`
	Status          string `yaml:"status,omitempty"`
	Accepted        bool   `yaml:"accepted,omitempty"`
	Role            string `yaml:"role,omitempty"`
	Account         string `yaml:"account,omitempty"`
	Implementation  string `yaml:"implementation,omitempty"`
}

// Faults make the node or the wallet misbehave for one step.
type Faults struct {
	// Throttle makes the next n calls of each RPC method fail with 429.
	Throttle map[string]int `yaml:"throttle,omitempty"`

	// Deny makes the wallet refuse the next n approvals.
	Deny int `yaml:"deny,omitempty"`

	// Disconnect drops every live subscription.
	Disconnect bool `yaml:"disconnect,omitempty"`
}

// Expect is an expected failure. Error is a contract revert name, Kind a
// txerr kind; either or both may be set.
type Expect struct {
	Error string `yaml:"error,omitempty"`
	Kind  string `yaml:"kind,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Request is the repair request id (ledger_state, projection_state).
	Request uint64 `yaml:"request,omitempty"`

	// Expect holds expected record fields (ledger_state, projection_state).
	// Subset match.
	Expect map[string]string `yaml:"expect,omitempty"`

	// Event is the event type (event_count).
	Event string `yaml:"event,omitempty"`

	// Count is the expected number of events (event_count).
	Count int `yaml:"count,omitempty"`

	// Events is the expected order of event types (event_order).
	Events []string `yaml:"events,omitempty"`
}

// Assertion types.
const (
	AssertLedgerState     = "ledger_state"
	AssertProjectionState = "projection_state"
	AssertEventCount      = "event_count"
	AssertEventOrder      = "event_order"
	AssertConverged       = "converged"
)

// CallGet is the pseudo-method for a direct ledger read.
const CallGet = "get"

var calls = []string{
	string(ledger.MethodCreate), string(ledger.MethodUpdateDescription), string(ledger.MethodUpdateWorkDetails),
	string(ledger.MethodUpdateStatus), string(ledger.MethodWithdraw), string(ledger.MethodApproveWork),
	string(ledger.MethodPause), string(ledger.MethodUnpause), string(ledger.MethodGrantRole),
	string(ledger.MethodRevokeRole), string(ledger.MethodUpgrade), CallGet,
}

var rpcMethods = []string{
	chain.MethodBlockNumber, chain.MethodEstimateGas, chain.MethodSendTx, chain.MethodReceipt,
	chain.MethodCall, chain.MethodGetLogs, chain.MethodSubscribe,
}

// recordFields are the keys ledger_state and projection_state understand.
var recordFields = []string{
	"status", "initiator", "landlord", "property_id", "description_hash", "work_details_hash",
	"description", "urgency",
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}

	accounts, err := newAccounts(s.Accounts)
	if err != nil {
		return err
	}
	if s.Sync != nil {
		switch {
		case s.Sync.Initiator == "" && s.Sync.Request == 0:
			return fmt.Errorf("sync: initiator or request is required")
		case s.Sync.Initiator != "" && s.Sync.Request != 0:
			return fmt.Errorf("sync: initiator and request are mutually exclusive")
		case s.Sync.Initiator != "":
			if _, err := accounts.resolve(s.Sync.Initiator); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, accounts); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, st *Step, accounts accounts) error {
	if st.Call == "" {
		return fmt.Errorf("steps[%d]: call is required", i)
	}
	if !slices.Contains(calls, st.Call) {
		return fmt.Errorf("steps[%d]: unknown call %q", i, st.Call)
	}
	if st.Call != CallGet {
		if st.As == "" {
			return fmt.Errorf("steps[%d]: as is required", i)
		}
		if _, err := accounts.resolve(st.As); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	switch ledger.Method(st.Call) {
	case ledger.MethodUpdateStatus:
		if st.Args.Status == "" {
			return fmt.Errorf("steps[%d].args: status is required for updateStatus", i)
		}
	case ledger.MethodGrantRole, ledger.MethodRevokeRole:
		if st.Args.Account == "" {
			return fmt.Errorf("steps[%d].args: account is required for %s", i, st.Call)
		}
	}
	if st.Args.Status != "" {
		if _, err := ledger.ParseStatus(st.Args.Status); err != nil {
			return fmt.Errorf("steps[%d].args: %w", i, err)
		}
	}
	for _, who := range []string{st.Args.Landlord, st.Args.Account} {
		if who == "" {
			continue
		}
		if _, err := accounts.resolve(who); err != nil {
			return fmt.Errorf("steps[%d].args: %w", i, err)
		}
	}
	if st.Faults != nil {
		for method, n := range st.Faults.Throttle {
			if !slices.Contains(rpcMethods, method) {
				return fmt.Errorf("steps[%d].faults: unknown RPC method %q", i, method)
			}
			if n <= 0 {
				return fmt.Errorf("steps[%d].faults: throttle count for %s must be positive", i, method)
			}
		}
		if st.Faults.Deny < 0 {
			return fmt.Errorf("steps[%d].faults: deny must be non-negative", i)
		}
	}
	if st.Expect != nil {
		if st.Expect.Error == "" && st.Expect.Kind == "" {
			return fmt.Errorf("steps[%d].expect: error or kind is required", i)
		}
		if st.Expect.Kind != "" && !slices.Contains(txerr.Kinds, txerr.Kind(st.Expect.Kind)) {
			return fmt.Errorf("steps[%d].expect: unknown kind %q", i, st.Expect.Kind)
		}
		if st.Expect.Error != "" && !isRevertName(st.Expect.Error) {
			return fmt.Errorf("steps[%d].expect: unknown revert %q", i, st.Expect.Error)
		}
	}
	return nil
}

func isRevertName(name string) bool {
	for _, r := range ledger.Reverts {
		if r.Name == name {
			return true
		}
	}
	return false
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertLedgerState, AssertProjectionState:
		if a.Request == 0 {
			return fmt.Errorf("assertions[%d]: request is required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
		for field := range a.Expect {
			if !slices.Contains(recordFields, field) {
				return fmt.Errorf("assertions[%d]: unknown field %q", index, field)
			}
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertConverged:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
