package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Submitted("create", "confirmed", 2*time.Second)
	m.Applied("RepairRequestCreated")
	m.Duplicate()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "repairsync_submit_transactions_total")
	assert.Contains(t, names, "repairsync_submit_duration_seconds")
	assert.Contains(t, names, "repairsync_sync_events_applied_total")
	assert.Contains(t, names, "repairsync_sync_events_duplicate_total")
}

func TestMetrics_Counters(t *testing.T) {
	m := New(nil)

	m.Submitted("create", "confirmed", time.Second)
	m.Submitted("create", "failed", time.Second)
	m.Submitted("create", "confirmed", time.Second)
	m.SubmitFailed("RATE_LIMIT")
	m.Retried("confirm")
	m.Retried("confirm")
	m.SetInFlight(3)
	m.Undecodable()
	m.Backfilled("ok")
	m.Resubscribed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions.WithLabelValues("create", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("create", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmitErrors.WithLabelValues("RATE_LIMIT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubmitRetries.WithLabelValues("confirm")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActionsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsUndecodable))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Backfills.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resubscribes))
}

func TestMetrics_Exposition(t *testing.T) {
	m := New(nil)
	m.Duplicate()
	m.Duplicate()

	expected := `
# HELP repairsync_sync_events_duplicate_total Events dropped because their key was already applied.
# TYPE repairsync_sync_events_duplicate_total counter
repairsync_sync_events_duplicate_total 2
`
	assert.NoError(t, testutil.CollectAndCompare(m.EventsDuplicate, strings.NewReader(expected)))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Submitted("create", "confirmed", time.Second)
		m.SubmitFailed("UNKNOWN")
		m.Retried("probe")
		m.SetInFlight(1)
		m.Applied("x")
		m.Duplicate()
		m.Undecodable()
		m.Backfilled("error")
		m.Resubscribed()
	})
}
