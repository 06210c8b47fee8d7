package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/repairsync/internal/ir"
	"github.com/roach88/repairsync/internal/store"
)

// Snapshot is the deterministic part of a run: what each step did, what
// the session saw and what the projection ended up holding. Transaction
// hashes and event keys are left out.
type Snapshot struct {
	ScenarioName string
	Steps        []StepTrace
	Events       []EventTrace
	Projection   []store.Record
}

// toCanonicalMap converts a Snapshot to a map[string]any for canonical JSON
// serialization. ir.MarshalCanonical only handles IR types and primitives,
// and rejects null, so optional fields are omitted when empty.
func (s *Snapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, st := range s.Steps {
		m := map[string]any{
			"step":    st.Step,
			"call":    st.Call,
			"outcome": st.Outcome,
		}
		putString(m, "as", st.As)
		putString(m, "kind", st.Kind)
		putString(m, "reason", st.Reason)
		putString(m, "status", st.Status)
		if st.RequestID != 0 {
			m["request_id"] = st.RequestID
		}
		if len(st.Events) > 0 {
			m["events"] = st.Events
		}
		steps[i] = m
	}

	events := make([]any, len(s.Events))
	for i, e := range s.Events {
		m := map[string]any{
			"type":       e.Type,
			"request_id": e.RequestID,
			"timestamp":  e.Timestamp,
			"block":      e.Block,
		}
		putString(m, "old_status", e.OldStatus)
		putString(m, "new_status", e.NewStatus)
		putString(m, "new_hash", e.NewHash)
		events[i] = m
	}

	projection := make([]any, len(s.Projection))
	for i, r := range s.Projection {
		projection[i] = map[string]any{
			"id":                r.ID,
			"status":            r.Status.String(),
			"initiator":         r.Initiator.String(),
			"landlord":          r.Landlord.String(),
			"property_id":       r.PropertyID,
			"description_hash":  r.DescriptionHash,
			"work_details_hash": r.WorkDetailsHash,
			"created_at":        r.CreatedAt,
			"updated_at":        r.UpdatedAt,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"events":        events,
		"projection":    projection,
	}
}

func putString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// MarshalSnapshot renders the snapshot of result as canonical JSON.
func MarshalSnapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Steps:        result.Steps,
		Events:       result.Events,
		Projection:   result.Projection,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// TraceHash fingerprints the snapshot of result.
func TraceHash(scenarioName string, result *Result) (string, error) {
	snapshot := Snapshot{
		ScenarioName: scenarioName,
		Steps:        result.Steps,
		Events:       result.Events,
		Projection:   result.Projection,
	}
	return ir.TraceHash(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, Options{})
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
