package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/repairsync/internal/engine"
	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/store"
	"github.com/roach88/repairsync/internal/txerr"
)

// AssertionError is returned when an assertion fails.
// It includes the event stream to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Events   []EventTrace // Events the session saw
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nEvents:\n")
		for i, ev := range e.Events {
			fmt.Fprintf(&buf, "  [%d] %s #%d @%d", i+1, ev.Type, ev.RequestID, ev.Timestamp)
			if ev.NewStatus != "" {
				fmt.Fprintf(&buf, " %s->%s", ev.OldStatus, ev.NewStatus)
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// LedgerReader reads records straight from the ledger.
type LedgerReader interface {
	GetRequest(ctx context.Context, id uint64) (ledger.RepairRequest, error)
}

// AssertionContext provides what state assertions read from.
type AssertionContext struct {
	Ctx    context.Context
	Ledger LedgerReader
	Store  *store.Store

	// Scope is what the session observed; converged only compares records
	// inside it.
	Scope engine.Scope

	accounts accounts
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertEventCount:
			err = assertEventCount(result.Events, a)
		case AssertEventOrder:
			err = assertEventOrder(result.Events, a)
		case AssertLedgerState:
			if actx == nil || actx.Ledger == nil {
				err = fmt.Errorf("assertion[%d]: ledger_state requires a ledger", i)
			} else {
				err = assertLedgerState(actx, a)
			}
		case AssertProjectionState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: projection_state requires a store", i)
			} else {
				err = assertProjectionState(actx, a)
			}
		case AssertConverged:
			if actx == nil || actx.Ledger == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: converged requires a ledger and a store", i)
			} else {
				err = assertConverged(actx, result.Events)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// assertEventCount checks that an event type was seen exactly Count times.
func assertEventCount(events []EventTrace, a Assertion) error {
	count := 0
	for _, e := range events {
		if e.Type == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Events:   events,
		}
	}
	return nil
}

// assertEventOrder checks that the expected types appear as a subsequence
// of the event stream. Intervening events are allowed and a type may be
// listed more than once.
func assertEventOrder(events []EventTrace, a Assertion) error {
	next := 0
	for _, e := range events {
		if next < len(a.Events) && e.Type == a.Events[next] {
			next++
		}
	}
	if next < len(a.Events) {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: fmt.Sprintf("events in order: %v", a.Events),
			Actual:   fmt.Sprintf("matched %d of %d, missing %s", next, len(a.Events), a.Events[next]),
			Events:   events,
		}
	}
	return nil
}

func assertLedgerState(actx *AssertionContext, a Assertion) error {
	r, err := actx.Ledger.GetRequest(actx.Ctx, a.Request)
	if err != nil {
		return &AssertionError{
			Type:     AssertLedgerState,
			Expected: fmt.Sprintf("request %d on the ledger", a.Request),
			Actual:   err.Error(),
		}
	}
	return matchFields(AssertLedgerState, a, fieldValues(r, nil), actx.accounts)
}

func assertProjectionState(actx *AssertionContext, a Assertion) error {
	rec, err := actx.Store.ReadByID(actx.Ctx, a.Request)
	if err != nil {
		return &AssertionError{
			Type:     AssertProjectionState,
			Expected: fmt.Sprintf("request %d in the projection", a.Request),
			Actual:   err.Error(),
		}
	}
	return matchFields(AssertProjectionState, a, fieldValues(rec.RepairRequest, &rec.LocalDetails), actx.accounts)
}

// assertConverged walks the ledger from request 1 until the first missing
// id and checks that the projection holds exactly the in-scope records,
// with the same ledger fields.
func assertConverged(actx *AssertionContext, events []EventTrace) error {
	var diffs []string
	inScope := 0
	for id := uint64(1); ; id++ {
		r, err := actx.Ledger.GetRequest(actx.Ctx, id)
		if errors.Is(txerr.Classify("read", err), txerr.ErrNotFound) {
			break
		}
		if err != nil {
			return fmt.Errorf("converged: read request %d: %w", id, err)
		}

		rec, perr := actx.Store.ReadByID(actx.Ctx, id)
		if !covers(actx.Scope, r) {
			if perr == nil {
				diffs = append(diffs, fmt.Sprintf("request %d is outside %s but projected", id, actx.Scope))
			}
			continue
		}
		inScope++
		if perr != nil {
			diffs = append(diffs, fmt.Sprintf("request %d: %v", id, perr))
			continue
		}
		want, got := fieldValues(r, nil), fieldValues(rec.RepairRequest, nil)
		for _, k := range sortedKeys(want) {
			if want[k] != got[k] {
				diffs = append(diffs, fmt.Sprintf("request %d %s: ledger %q, projection %q", id, k, want[k], got[k]))
			}
		}
	}

	records, err := actx.Store.ListAll(actx.Ctx)
	if err != nil {
		return fmt.Errorf("converged: %w", err)
	}
	if len(records) != inScope {
		diffs = append(diffs, fmt.Sprintf("projection holds %d records, ledger scope %d", len(records), inScope))
	}

	if len(diffs) > 0 {
		return &AssertionError{
			Type:     AssertConverged,
			Expected: fmt.Sprintf("projection equal to ledger for %s", actx.Scope),
			Actual:   strings.Join(diffs, "; "),
			Events:   events,
		}
	}
	return nil
}

func covers(scope engine.Scope, r ledger.RepairRequest) bool {
	if scope.RequestID != 0 {
		return r.ID == scope.RequestID
	}
	return r.Initiator == scope.Initiator
}

// fieldValues renders a record as the string fields assertions compare.
func fieldValues(r ledger.RepairRequest, local *store.LocalDetails) map[string]string {
	m := map[string]string{
		"status":            r.Status.String(),
		"initiator":         r.Initiator.String(),
		"landlord":          r.Landlord.String(),
		"property_id":       r.PropertyID,
		"description_hash":  r.DescriptionHash,
		"work_details_hash": r.WorkDetailsHash,
	}
	if local != nil {
		m["description"] = local.Description
		m["urgency"] = string(local.Urgency)
	}
	return m
}

// matchFields compares expected fields with actual ones (subset match).
// Account fields accept scenario account names.
func matchFields(kind string, a Assertion, actual map[string]string, accts accounts) error {
	var diffs []string
	for _, k := range sortedKeys(a.Expect) {
		want := a.Expect[k]
		if (k == "initiator" || k == "landlord") && accts != nil {
			if addr, err := accts.resolve(want); err == nil {
				want = addr.String()
			}
		}
		got, ok := actual[k]
		if !ok {
			diffs = append(diffs, fmt.Sprintf("%s missing", k))
			continue
		}
		if got != want {
			diffs = append(diffs, fmt.Sprintf("%s=%q (want %q)", k, got, want))
		}
	}
	if len(diffs) > 0 {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("request %d with %v", a.Request, a.Expect),
			Actual:   strings.Join(diffs, ", "),
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
