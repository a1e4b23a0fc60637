package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tmakaro/requal/internal/equiv"
	"github.com/tmakaro/requal/internal/schema"
	"github.com/tmakaro/requal/internal/scratch"
	"github.com/tmakaro/requal/internal/search"
)

// poolFile is the on-disk YAML layout for a candidate pool.
type poolFile struct {
	Baseline   string            `yaml:"baseline"`
	Candidates []search.Proposal `yaml:"candidates"`
}

// RaceResult holds the selection outcome for JSON output.
type RaceResult struct {
	Promoted         *CandidateReport  `json:"promoted,omitempty"`
	BaselineRetained bool              `json:"baseline_retained"`
	Pool             []CandidateReport `json:"pool"`
}

// CandidateReport is one candidate's line in the outcome.
type CandidateReport struct {
	ID         string  `json:"id"`
	Provenance string  `json:"provenance"`
	Status     string  `json:"status"`
	Speedup    float64 `json:"speedup,omitempty"`
	TimedOut   bool    `json:"timed_out,omitempty"`
}

// raceOptions collects the race command's flags.
type raceOptions struct {
	schemaPath  string
	recipesPath string
	workers     int
	minSpeedup  float64
	requireWin  bool
	reusePass   bool
}

// NewRaceCommand creates the race command.
func NewRaceCommand(rootOpts *RootOptions) *cobra.Command {
	var raceOpts raceOptions

	cmd := &cobra.Command{
		Use:   "race <pool.yaml>",
		Short: "Race a pool of candidate rewrites against the baseline",
		Long: `Evaluate every candidate in the pool concurrently: validate each one
against a synthetic witness database, benchmark the ones that pass, and
promote the fastest verified-equivalent rewrite. When no candidate both
passes and clears the speedup bar, the baseline is retained.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRace(rootOpts, raceOpts, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&raceOpts.schemaPath, "schema", "", "DDL script describing the target schema (required)")
	cmd.Flags().StringVar(&raceOpts.recipesPath, "recipes", "", "CUE recipe registry for constraint shapes the solver cannot cover")
	cmd.Flags().IntVar(&raceOpts.workers, "workers", 4, "concurrent candidate evaluations")
	cmd.Flags().Float64Var(&raceOpts.minSpeedup, "min-speedup", 1.0, "speedup a winner must reach to replace the baseline")
	cmd.Flags().BoolVar(&raceOpts.requireWin, "require-win", false, "exit non-zero when the baseline is retained")
	cmd.Flags().BoolVar(&raceOpts.reusePass, "reuse-pass", false, "reuse a candidate's earlier pass verdict when confirming the winner")
	cmd.MarkFlagRequired("schema")

	return cmd
}

func runRace(opts *RootOptions, raceOpts raceOptions, poolPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	pf, err := loadPool(poolPath)
	if err != nil {
		return commandError(formatter, "E220", err)
	}
	sch, err := schema.LoadFile(raceOpts.schemaPath)
	if err != nil {
		return commandError(formatter, "E201", err)
	}
	evalOpts, err := evaluatorOptions(sch, raceOpts.recipesPath)
	if err != nil {
		return commandError(formatter, "E205", err)
	}

	cache := scratch.NewFixtureCache()
	defer cache.Close()
	evalOpts = append(evalOpts, search.WithFixtureCache(cache))
	if raceOpts.reusePass {
		evalOpts = append(evalOpts, search.WithValidator(equiv.New(equiv.WithRaceMode())))
	}

	ev, err := search.NewProbeEvaluator(cmd.Context(), pf.Baseline, opts.Dialect, sch, evalOpts...)
	if err != nil {
		return commandError(formatter, "E204", err)
	}
	formatter.VerboseLog("racing %d candidate(s) with %d worker(s)", len(pf.Candidates), raceOpts.workers)

	strategy := search.NewPoolStrategy(pf.Candidates,
		search.WithWorkers(raceOpts.workers),
		search.WithMinSpeedup(raceOpts.minSpeedup),
	)
	outcome, err := strategy.Run(cmd.Context(), ev)
	if err != nil {
		return commandError(formatter, "E221", err)
	}
	return reportOutcome(formatter, opts, outcome, raceOpts.requireWin)
}

func loadPool(path string) (*poolFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool file: %w", err)
	}
	var pf poolFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pool file: %w", err)
	}
	if pf.Baseline == "" {
		return nil, fmt.Errorf("pool file %s has no baseline query", path)
	}
	if len(pf.Candidates) == 0 {
		return nil, fmt.Errorf("pool file %s has no candidates", path)
	}
	return &pf, nil
}

func reportOutcome(f *OutputFormatter, opts *RootOptions, outcome *search.Outcome, requireWin bool) error {
	result := RaceResult{BaselineRetained: outcome.BaselineRetained}
	for _, c := range outcome.Pool {
		result.Pool = append(result.Pool, candidateReport(c))
	}
	if outcome.Promoted != nil {
		r := candidateReport(outcome.Promoted)
		result.Promoted = &r
	}

	if opts.Format == "json" {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		if outcome.Promoted != nil {
			fmt.Fprintf(f.Writer, "✓ promoted %s (%.2fx)\n", outcome.Promoted.ID, outcome.Promoted.Bench.Speedup)
			fmt.Fprintln(f.Writer, outcome.Promoted.SQL)
		} else {
			fmt.Fprintln(f.Writer, "baseline retained")
		}
		for _, c := range result.Pool {
			fmt.Fprintf(f.Writer, "  %s  %-8s speedup=%.2f provenance=%s\n", c.ID, c.Status, c.Speedup, c.Provenance)
		}
	}

	if requireWin && outcome.BaselineRetained {
		return NewExitError(ExitFailure, "baseline retained: no candidate cleared the bar")
	}
	return nil
}

func candidateReport(c *search.Candidate) CandidateReport {
	r := CandidateReport{ID: c.ID, Provenance: c.Provenance, Status: "unevaluated"}
	if c.Verdict != nil {
		r.Status = c.Verdict.Status.String()
	}
	if c.Bench != nil {
		r.Speedup = c.Bench.Speedup
		r.TimedOut = c.Bench.TimedOut
	}
	return r
}
