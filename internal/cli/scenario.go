package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/repairsync/internal/harness"
	"github.com/roach88/repairsync/internal/ledger"
	"github.com/roach88/repairsync/internal/metrics"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Filter      string // scenario name glob, applied to directory contents
	MetricsFile string // Prometheus text file written after the run
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name      string   `json:"name"`
	File      string   `json:"file"`
	Pass      bool     `json:"pass"`
	Steps     int      `json:"steps"`
	Events    int      `json:"events"`
	TraceHash string   `json:"trace_hash,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// ScenarioReport summarizes a scenario run.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run repair request scenarios",
		Long: `Run scenario files against an in-process ledger node.

Each scenario gets a fresh ledger, submission pipeline, sync session and
in-memory projection. Steps are checked against their expectations and the
assertions are evaluated once the projection has converged.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (missing files, bad config)

Examples:
  repairsync scenario ./scenarios
  repairsync scenario ./scenarios --filter "approve_*"
  repairsync scenario lifecycle.yaml --metrics-file run.prom
  repairsync scenario ./scenarios --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios in directories by glob pattern")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics of the run to this file")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *ScenarioOptions, args []string) error {
	out := opts.formatter(cmd)

	files, err := findScenarioFiles(args, opts.Filter)
	if err != nil {
		return out.Fail(ExitCommandError, CodeInvalidArgs, err)
	}

	runOpts, err := harnessOptions(opts.RootOptions)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, err)
	}
	var reg *prometheus.Registry
	if opts.MetricsFile != "" {
		reg = prometheus.NewRegistry()
		runOpts.Metrics = metrics.New(reg)
	}

	report := ScenarioReport{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		res := runScenarioFile(cmd, file, runOpts)
		out.VerboseLog("%s: pass=%t", res.Name, res.Pass)
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Scenarios = append(report.Scenarios, res)
	}

	if reg != nil {
		if err := prometheus.WriteToTextfile(opts.MetricsFile, reg); err != nil {
			return out.Fail(ExitCommandError, CodeInvalidArgs, fmt.Errorf("write metrics: %w", err))
		}
	}

	if out.JSON() {
		if err := out.Success(report); err != nil {
			return err
		}
	} else {
		writeScenarioText(out, report)
	}

	if report.Failed > 0 {
		exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total))
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

func runScenarioFile(cmd *cobra.Command, file string, runOpts harness.Options) ScenarioResult {
	res := ScenarioResult{Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		res.Errors = []string{err.Error()}
		return res
	}
	res.Name = scenario.Name

	result, err := harness.Run(cmd.Context(), scenario, runOpts)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Pass = result.Pass
	res.Steps = len(result.Steps)
	res.Events = len(result.Events)
	res.TraceHash = result.TraceHash
	res.Errors = result.Errors
	return res
}

func writeScenarioText(out *OutputFormatter, report ScenarioReport) {
	rows := make([]table.Row, 0, len(report.Scenarios))
	for _, s := range report.Scenarios {
		verdict := "PASS"
		if !s.Pass {
			verdict = "FAIL"
		}
		rows = append(rows, table.Row{s.Name, verdict, s.Steps, s.Events, shortHash(s.TraceHash)})
	}
	_ = out.Table(table.Row{"Scenario", "Result", "Steps", "Events", "Trace"}, rows, nil)

	for _, s := range report.Scenarios {
		if s.Pass {
			continue
		}
		fmt.Fprintf(out.Writer, "\n%s (%s):\n", s.Name, s.File)
		for _, e := range s.Errors {
			fmt.Fprintf(out.Writer, "  - %s\n", e)
		}
	}
	fmt.Fprintf(out.Writer, "\n%d passed, %d failed, %d total\n", report.Passed, report.Failed, report.Total)
}

// harnessOptions maps the loaded config onto a scenario run.
func harnessOptions(opts *RootOptions) (harness.Options, error) {
	cfg := opts.Config
	runOpts := harness.Options{
		Logger:   opts.Logger,
		GasPrice: cfg.Ledger.GasPrice,
		Funding:  cfg.Ledger.Funding,
		Buffer:   cfg.Sync.Buffer,

		PollInterval:        cfg.Submit.PollInterval,
		ConfirmTimeout:      cfg.Submit.ConfirmTimeout,
		BackoffBase:         cfg.Submit.BackoffBase,
		MaxAttempts:         cfg.Submit.MaxAttempts,
		ResubscribeAttempts: cfg.Sync.ResubscribeAttempts,
	}
	if cfg.Ledger.Admin != "" {
		admin, err := ledger.ParseAddress(cfg.Ledger.Admin)
		if err != nil {
			return harness.Options{}, fmt.Errorf("ledger.admin: %w", err)
		}
		runOpts.Admin = admin
	}
	return runOpts, nil
}

// findScenarioFiles expands args into scenario files. Directories are
// walked for .yaml and .yml files matching filter; files are taken as given.
func findScenarioFiles(args []string, filter string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("scenario path not found: %s", arg)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}
			if filter != "" {
				matched, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
				if err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
				if !matched {
					return nil
				}
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
