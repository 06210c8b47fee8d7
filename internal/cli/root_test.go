package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns what it wrote to
// stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "repairsync", cmd.Use)
	assert.Contains(t, cmd.Long, "REPAIRSYNC_")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"scenario", "show", "list", "history", "annotate", "token", "validate-config"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db", "jwt-secret"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue, name)
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, err := execute(t, "--format", "invalid", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFormatFromEnvironment(t *testing.T) {
	t.Setenv("REPAIRSYNC_FORMAT", "yaml")

	_, err := execute(t, "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestConfigLayering(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "repairsync.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  path: from-file.db\nlog:\n  level: warn\n"), 0644))

	tests := []struct {
		name   string
		env    map[string]string
		args   []string
		wantDB string
		level  string
	}{
		{"defaults", nil, nil, "repairsync.db", "info"},
		{"file", nil, []string{"--config", cfgPath}, "from-file.db", "warn"},
		{"env over file", map[string]string{"REPAIRSYNC_DB": "from-env.db"}, []string{"--config", cfgPath}, "from-env.db", "warn"},
		{"flag over env", map[string]string{"REPAIRSYNC_DB": "from-env.db"}, []string{"--db", "from-flag.db"}, "from-flag.db", "info"},
		{"config from env", map[string]string{"REPAIRSYNC_CONFIG": cfgPath}, nil, "from-file.db", "warn"},
		{"verbose", nil, []string{"--config", cfgPath, "-v"}, "from-file.db", "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cmd, got := newRootCommand()
			cmd.AddCommand(&cobra.Command{Use: "noop", RunE: func(*cobra.Command, []string) error { return nil }})
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			cmd.SetArgs(append(tt.args, "noop"))
			require.NoError(t, cmd.Execute())

			require.NotNil(t, got)
			assert.Equal(t, tt.wantDB, got.Config.Database.Path)
			assert.Equal(t, tt.level, got.Config.Log.Level)
			assert.NotNil(t, got.Logger)
		})
	}
}

func TestInvalidConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("submit:\n  max_attempts: 0\n"), 0644))

	_, err := execute(t, "--config", cfgPath, "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
