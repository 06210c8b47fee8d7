package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/repairsync/internal/config"
)

// EnvPrefix prefixes the environment variables that mirror global flags,
// e.g. REPAIRSYNC_DB for --db.
const EnvPrefix = "REPAIRSYNC"

// RootOptions holds global flags and what PersistentPreRunE derives from
// them.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Config is the loaded file with flag and environment overrides applied.
	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

var globalFlags = []string{"verbose", "format", "config", "db", "jwt-secret"}

// NewRootCommand creates the root command for the repairsync CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "repairsync",
		Short: "repairsync - repair request ledger client",
		Long: `Drive repair requests on a ledger and keep a local projection of them.

Scenarios run the full stack (submission pipeline, event sync, projection)
against an in-process ledger node. The show, list and history commands read
a projection database.

Every global flag can also be set through the environment with the
REPAIRSYNC_ prefix, e.g. REPAIRSYNC_DB or REPAIRSYNC_JWT_SECRET.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd, v)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "verbose output (debug logging)")
	flags.String("format", "text", "output format (json|text)")
	flags.String("config", "", "config file (YAML)")
	flags.String("db", "", "projection database (overrides database.path)")
	flags.String("jwt-secret", "", "session token secret (overrides auth.jwt_secret)")
	for _, name := range globalFlags {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewAnnotateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewValidateConfigCommand(opts))

	return cmd, opts
}

func (o *RootOptions) load(cmd *cobra.Command, v *viper.Viper) error {
	o.Verbose = v.GetBool("verbose")
	o.Format = v.GetString("format")
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	o.ConfigPath = v.GetString("config")
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if db := v.GetString("db"); db != "" {
		cfg.Database.Path = db
	}
	if secret := v.GetString("jwt-secret"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	o.Config = cfg

	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	o.Logger = logger
	return nil
}

// formatter returns an OutputFormatter writing to cmd's streams.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
