// Package config loads repairsync configuration from YAML.
//
// A file is checked twice: against the embedded CUE schema, which catches
// unknown keys and out-of-range values with precise positions, and by
// strict YAML decoding into Config on top of Defaults.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the full configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Submit   SubmitConfig   `yaml:"submit"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
	Auth     AuthConfig     `yaml:"auth"`
}

// DatabaseConfig locates the projection store.
type DatabaseConfig struct {
	// Path is the SQLite file. ":memory:" keeps it in memory.
	Path string `yaml:"path"`
}

// LedgerConfig configures the in-process ledger node.
type LedgerConfig struct {
	// Admin is the account that deploys the contract. Empty keeps the
	// scenario's admin account.
	Admin string `yaml:"admin"`

	GasPrice uint64 `yaml:"gas_price"`

	// Funding is credited to every scenario actor at start.
	Funding uint64 `yaml:"funding"`
}

// SubmitConfig tunes the transaction submission pipeline.
type SubmitConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

// SyncConfig tunes the event synchronization engine.
type SyncConfig struct {
	// Buffer is the capacity of the live log channel.
	Buffer int `yaml:"buffer"`

	ResubscribeAttempts int `yaml:"resubscribe_attempts"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AuthConfig configures session token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{Path: "repairsync.db"},
		Ledger:   LedgerConfig{GasPrice: 1, Funding: 1_000_000_000},
		Submit: SubmitConfig{
			PollInterval:   2 * time.Second,
			ConfirmTimeout: 2 * time.Minute,
			BackoffBase:    time.Second,
			MaxAttempts:    5,
		},
		Sync: SyncConfig{Buffer: 256, ResubscribeAttempts: 5},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads and validates the file at path. An empty path returns Defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the schema and decodes it over Defaults.
func Parse(data []byte) (Config, error) {
	if err := checkSchema(data); err != nil {
		return Config{}, err
	}

	cfg := Defaults()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks constraints the schema cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.Submit.PollInterval <= 0 {
		errs = append(errs, errors.New("submit.poll_interval must be positive"))
	}
	if c.Submit.ConfirmTimeout < c.Submit.PollInterval {
		errs = append(errs, errors.New("submit.confirm_timeout must not be shorter than submit.poll_interval"))
	}
	if c.Submit.BackoffBase <= 0 {
		errs = append(errs, errors.New("submit.backoff_base must be positive"))
	}
	if c.Submit.MaxAttempts < 1 {
		errs = append(errs, errors.New("submit.max_attempts must be at least 1"))
	}
	if c.Sync.Buffer < 1 {
		errs = append(errs, errors.New("sync.buffer must be at least 1"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

func checkSchema(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("config schema: %s", cueerrors.Details(err, nil))
	}
	return nil
}
