package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/repairsync/internal/config"
	"github.com/roach88/repairsync/internal/testutil"
)

const scenariosDir = "../harness/testdata/scenarios"

const failingScenario = `
name: wrong_revert
description: Withdrawing twice is expected to fail with the wrong revert
steps:
  - as: tenant
    call: create
    args: { property_id: P1, description_hash: H1, landlord: landlord }
  - as: tenant
    call: withdraw
    args: { id: 1 }
  - as: tenant
    call: withdraw
    args: { id: 1 }
    expect: { error: CallerIsNotLandlord }
assertions:
  - type: converged
`

// fastConfig writes a config file with millisecond submission timings
// followed by extra, and returns its path.
func fastConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repairsync.yaml")
	body := "submit:\n  poll_interval: 1ms\n  confirm_timeout: 5s\n  backoff_base: 1ms\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestScenario_Directory(t *testing.T) {
	out, err := execute(t, "--config", fastConfig(t, ""), "--format", "json", "scenario", scenariosDir)
	require.NoError(t, err)

	var report ScenarioReport
	decode(t, out, &report)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 5, report.Passed)
	assert.Zero(t, report.Failed)
	for _, s := range report.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
		assert.NotEmpty(t, s.TraceHash, s.Name)
	}
}

func TestScenario_Filter(t *testing.T) {
	out, err := execute(t, "--format", "json", "scenario", scenariosDir, "--filter", "approve_*")
	require.NoError(t, err)

	var report ScenarioReport
	decode(t, out, &report)
	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "approve_lifecycle", report.Scenarios[0].Name)
	assert.Equal(t, 8, report.Scenarios[0].Steps)
}

func TestScenario_TextAndFailures(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "wrong_revert.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(failingScenario), 0644))
	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("name: [unclosed"), 0644))

	out, err := execute(t, "scenario", filepath.Join(scenariosDir, "skip_in_progress.yaml"), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, Reported(err))
	assert.Contains(t, err.Error(), "2 of 3 scenarios failed")

	assert.Contains(t, out, "skip_in_progress")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "expected revert CallerIsNotLandlord")
	assert.Contains(t, out, "failed to parse YAML")
	assert.Contains(t, out, "1 passed, 2 failed, 3 total")
}

func TestScenario_MetricsFile(t *testing.T) {
	metricsFile := filepath.Join(t.TempDir(), "run.prom")

	_, err := execute(t, "scenario", filepath.Join(scenariosDir, "approve_lifecycle.yaml"), "--metrics-file", metricsFile)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "repairsync_submit_transactions_total")
	assert.Contains(t, string(data), "repairsync_sync_events_applied_total")
}

func TestScenario_MissingPath(t *testing.T) {
	out, err := execute(t, "scenario", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "scenario path not found")
}

func TestScenario_ConfigApplies(t *testing.T) {
	cfgPath := fastConfig(t, "ledger:\n  gas_price: 3\n  funding: 5000000000\nsync:\n  buffer: 8\n  resubscribe_attempts: 2\n")

	out, err := execute(t, "--config", cfgPath, "--format", "json", "scenario", filepath.Join(scenariosDir, "rate_limited.yaml"))
	require.NoError(t, err)
	var report ScenarioReport
	decode(t, out, &report)
	assert.Equal(t, 1, report.Passed)
}

func TestHarnessOptions(t *testing.T) {
	cfg := config.Defaults()
	cfg.Ledger.Admin = testutil.Address(0xab).String()
	cfg.Ledger.GasPrice = 7

	runOpts, err := harnessOptions(&RootOptions{Config: cfg})
	require.NoError(t, err)
	assert.Equal(t, testutil.Address(0xab), runOpts.Admin)
	assert.Equal(t, uint64(7), runOpts.GasPrice)
	assert.Equal(t, cfg.Ledger.Funding, runOpts.Funding)
	assert.Equal(t, cfg.Sync.Buffer, runOpts.Buffer)
	assert.Equal(t, cfg.Submit.PollInterval, runOpts.PollInterval)
	assert.Equal(t, cfg.Submit.ConfirmTimeout, runOpts.ConfirmTimeout)
	assert.Equal(t, cfg.Submit.BackoffBase, runOpts.BackoffBase)
	assert.Equal(t, cfg.Submit.MaxAttempts, runOpts.MaxAttempts)
	assert.Equal(t, cfg.Sync.ResubscribeAttempts, runOpts.ResubscribeAttempts)

	cfg.Ledger.Admin = "admin"
	_, err = harnessOptions(&RootOptions{Config: cfg})
	assert.Error(t, err)
}
