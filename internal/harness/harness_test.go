package harness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/metrics"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func run(t *testing.T, scenario *Scenario) *Result {
	t.Helper()
	result, err := Run(context.Background(), scenario, Options{})
	require.NoError(t, err)
	return result
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{
		"approve_lifecycle",
		"withdraw_blocks_updates",
		"skip_in_progress",
		"rate_limited",
		"paused",
	} {
		t.Run(name, func(t *testing.T) {
			result := run(t, load(t, name))
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
			assert.NotEmpty(t, result.TraceHash)
		})
	}
}

func TestRun_WithdrawBlocksUpdates(t *testing.T) {
	result := run(t, load(t, "withdraw_blocks_updates"))
	require.True(t, result.Pass, "errors: %v", result.Errors)

	for _, st := range result.Steps[2:6] {
		assert.Equal(t, OutcomeFailed, st.Outcome, "step %d", st.Step)
		assert.Equal(t, "RequestIsCancelled", st.Reason, "step %d", st.Step)
	}
	require.Len(t, result.Projection, 1)
	assert.Equal(t, ledger.StatusCancelled, result.Projection[0].Status)
	assert.Empty(t, result.Projection[0].WorkDetailsHash)
}

func TestRun_SkipInProgress(t *testing.T) {
	result := run(t, load(t, "skip_in_progress"))
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, "InvalidStatusTransition", result.Steps[1].Reason)
	assert.Equal(t, "INVALID_STATE", result.Steps[1].Kind)
	require.Len(t, result.Events, 1)
	assert.Equal(t, string(ledger.EventCreated), result.Events[0].Type)
	assert.Equal(t, ledger.StatusPending, result.Projection[0].Status)
}

func TestRun_FaultsRecovered(t *testing.T) {
	m := metrics.New(nil)
	result, err := Run(context.Background(), load(t, "rate_limited"), Options{Metrics: m})
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.SubmitRetries.WithLabelValues("estimate")), float64(2))
	assert.Equal(t, "RATE_LIMIT", result.Steps[3].Kind)
	assert.Equal(t, "USER_REJECTED", result.Steps[4].Kind)

	// Request 2 belongs to another initiator and stays out of the projection.
	require.Len(t, result.Projection, 1)
	assert.Equal(t, uint64(1), result.Projection[0].ID)
}

func TestRun_RequestScope(t *testing.T) {
	result := run(t, load(t, "paused"))
	require.True(t, result.Pass, "errors: %v", result.Errors)

	for _, e := range result.Events {
		assert.Equal(t, uint64(1), e.RequestID)
	}
	assert.Equal(t, "NOT_FOUND", result.Steps[len(result.Steps)-1].Kind)
}

func TestRun_LedgerOptions(t *testing.T) {
	admin := ledger.MustParseAddress("0x00000000000000000000000000000000000000ab")
	result, err := Run(context.Background(), load(t, "paused"), Options{
		Admin:    admin,
		GasPrice: 3,
		Funding:  5_000_000_000,
		Buffer:   4,
	})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_SubmitTuning(t *testing.T) {
	throttled := func() *Scenario {
		return &Scenario{
			Name:        "throttled_create",
			Description: "Three throttled estimates before a create",
			Steps: []Step{
				{As: AccountTenant, Call: "create", Args: StepArgs{PropertyID: "P1", DescriptionHash: "H1", Landlord: AccountLandlord},
					Faults: &Faults{Throttle: map[string]int{"eth_estimateGas": 3}}},
			},
			Assertions: []Assertion{{Type: AssertConverged}},
		}
	}

	tests := []struct {
		name        string
		pinned      int
		maxAttempts int
		pass        bool
	}{
		{"fast default gives up", 0, 0, false},
		{"option budget retries through", 0, 4, true},
		{"scenario budget wins", 3, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := throttled()
			scenario.MaxAttempts = tt.pinned
			result, err := Run(context.Background(), scenario, Options{
				MaxAttempts:         tt.maxAttempts,
				BackoffBase:         time.Millisecond,
				PollInterval:        time.Millisecond,
				ConfirmTimeout:      time.Second,
				ResubscribeAttempts: 1,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.pass, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestOptions_WithTuning(t *testing.T) {
	got := Options{}.withTuning(&Scenario{})
	assert.Equal(t, fastTuning.PollInterval, got.PollInterval)
	assert.Equal(t, fastTuning.ConfirmTimeout, got.ConfirmTimeout)
	assert.Equal(t, fastTuning.BackoffBase, got.BackoffBase)
	assert.Equal(t, fastTuning.MaxAttempts, got.MaxAttempts)
	assert.Equal(t, fastTuning.ResubscribeAttempts, got.ResubscribeAttempts)

	got = Options{PollInterval: time.Second, MaxAttempts: 7, ResubscribeAttempts: 2}.withTuning(&Scenario{MaxAttempts: 3})
	assert.Equal(t, time.Second, got.PollInterval)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, 2, got.ResubscribeAttempts)
}

func TestRun_UnexpectedOutcomesFail(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectations",
		Description: "Every expectation here is wrong",
		Steps: []Step{
			{As: AccountTenant, Call: "create", Args: StepArgs{PropertyID: "P1", DescriptionHash: "H1", Landlord: AccountLandlord},
				Expect: &Expect{Error: "ZeroAddress"}},
			{As: AccountTenant, Call: "withdraw", Args: StepArgs{ID: 1}},
			{As: AccountTenant, Call: "withdraw", Args: StepArgs{ID: 1},
				Expect: &Expect{Error: "RequestIsCancelled", Kind: "UNAUTHORIZED"}},
		},
		Assertions: []Assertion{
			{Type: AssertLedgerState, Request: 1, Expect: map[string]string{"status": "Pending"}},
			{Type: AssertEventCount, Event: string(ledger.EventCreated), Count: 2},
		},
	}

	result := run(t, scenario)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "expected failure ZeroAddress, succeeded")
	assert.Contains(t, result.Errors[1], "expected revert RequestIsCancelled")
	assert.Contains(t, result.Errors[2], "expected kind UNAUTHORIZED")
	assert.Contains(t, result.Errors[3], "ledger_state")
	assert.Contains(t, result.Errors[4], "event_count")
}

func TestRun_UnauthenticatedStep(t *testing.T) {
	scenario := &Scenario{
		Name:        "anonymous",
		Description: "A step without a caller never reaches the ledger",
		Steps: []Step{
			{Call: "create", Args: StepArgs{PropertyID: "P1", DescriptionHash: "H1", Landlord: AccountLandlord},
				Expect: &Expect{Kind: "UNKNOWN"}},
		},
		Assertions: []Assertion{{Type: AssertConverged}},
	}

	result := run(t, scenario)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Events)
	assert.Empty(t, result.Projection)
}

func TestRun_Deterministic(t *testing.T) {
	first := run(t, load(t, "approve_lifecycle"))
	second := run(t, load(t, "approve_lifecycle"))

	assert.Equal(t, first.TraceHash, second.TraceHash)
	assert.Equal(t, first.Steps, second.Steps)
	assert.Equal(t, first.Events, second.Events)
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("boom")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"boom"}, r.Errors)
}

func TestAccounts(t *testing.T) {
	a, err := newAccounts([]string{"plumber", "agent"})
	require.NoError(t, err)

	plumber, err := a.resolve("plumber")
	require.NoError(t, err)
	assert.Equal(t, "0x000000000000000000000000000000000000000a", plumber.String())
	assert.Equal(t, "agent", a.name(a["agent"]))

	literal, err := a.resolve("0x00000000000000000000000000000000000000Ff")
	require.NoError(t, err)
	assert.Equal(t, literal.Short(), a.name(literal))

	_, err = newAccounts([]string{""})
	assert.Error(t, err)
	assert.Len(t, a.sorted(), 5)
}
