package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  path: ":memory:"
ledger:
  admin: "0x00000000000000000000000000000000000000ad"
  gas_price: 2
submit:
  poll_interval: 500ms
  confirm_timeout: 30s
  max_attempts: 3
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, uint64(2), cfg.Ledger.GasPrice)
	assert.Equal(t, 500*time.Millisecond, cfg.Submit.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Submit.ConfirmTimeout)
	assert.Equal(t, 3, cfg.Submit.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Submit.BackoffBase, "unset keys keep defaults")
	assert.Equal(t, 256, cfg.Sync.Buffer)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown section", "cache:\n  size: 1\n"},
		{"unknown key", "submit:\n  retries: 3\n"},
		{"bad duration", "submit:\n  poll_interval: soon\n"},
		{"attempts out of range", "submit:\n  max_attempts: 0\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad format", "log:\n  format: xml\n"},
		{"bad admin", "ledger:\n  admin: alice\n"},
		{"empty db path", "database:\n  path: \"\"\n"},
		{"not yaml", "submit: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_CrossFieldValidation(t *testing.T) {
	_, err := Parse([]byte("submit:\n  poll_interval: 10s\n  confirm_timeout: 1s\n"))
	assert.ErrorContains(t, err, "confirm_timeout")
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)

	path := filepath.Join(t.TempDir(), "repairsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  buffer: 8\n"), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Sync.Buffer)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
