package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tmakaro/requal/internal/equiv"
	"github.com/tmakaro/requal/internal/recipe"
	"github.com/tmakaro/requal/internal/schema"
	"github.com/tmakaro/requal/internal/search"
	"github.com/tmakaro/requal/internal/synth"
)

// ValidateResult holds the validation outcome for one candidate.
type ValidateResult struct {
	Verdict     *equiv.Verdict `json:"verdict"`
	Fingerprint string         `json:"fingerprint"`
	WitnessRows int            `json:"witness_rows"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		schemaPath  string
		recipesPath string
	)

	cmd := &cobra.Command{
		Use:   "validate <baseline.sql> <candidate.sql>",
		Short: "Check a rewrite for equivalence on a synthetic witness database",
		Long: `Validate that a candidate rewrite is equivalent to the baseline query.

Extracts the baseline's constraint graph, synthesizes a minimal witness
database that the baseline provably matches, runs both queries against
it, and compares the results column-for-column and row-for-row.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, schemaPath, recipesPath, args[0], args[1], cmd)
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "DDL script describing the target schema (required)")
	cmd.Flags().StringVar(&recipesPath, "recipes", "", "CUE recipe registry for constraint shapes the solver cannot cover")
	cmd.MarkFlagRequired("schema")

	return cmd
}

func runValidate(opts *RootOptions, schemaPath, recipesPath, baselinePath, candidatePath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sch, err := schema.LoadFile(schemaPath)
	if err != nil {
		return commandError(formatter, "E201", err)
	}
	baseline, err := readQueryFile(baselinePath)
	if err != nil {
		return commandError(formatter, "E202", err)
	}
	candidate, err := readQueryFile(candidatePath)
	if err != nil {
		return commandError(formatter, "E202", err)
	}

	evalOpts, err := evaluatorOptions(sch, recipesPath)
	if err != nil {
		return commandError(formatter, "E205", err)
	}
	ev, err := search.NewProbeEvaluator(cmd.Context(), baseline, opts.Dialect, sch, evalOpts...)
	if err != nil {
		if synth.IsUnsat(err) || synth.IsUnsolved(err) {
			return commandError(formatter, "E203", err)
		}
		return commandError(formatter, "E204", err)
	}
	formatter.VerboseLog("witness plan %s: %d row(s)", ev.Plan().Fingerprint, ev.Plan().RowCount())

	cand := search.NewCandidate(search.Proposal{SQL: candidate, Provenance: "cli"})
	if err := ev.Evaluate(cmd.Context(), cand); err != nil {
		return commandError(formatter, "E204", err)
	}

	result := ValidateResult{
		Verdict:     cand.Verdict,
		Fingerprint: ev.Plan().Fingerprint,
		WitnessRows: ev.Plan().RowCount(),
	}
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		printVerdict(formatter, cand.Verdict)
	}
	if cand.Verdict.Status != equiv.StatusPass {
		return NewExitError(ExitFailure, fmt.Sprintf("candidate did not pass: %s", cand.Verdict.Status))
	}
	return nil
}

func printVerdict(f *OutputFormatter, v *equiv.Verdict) {
	switch v.Status {
	case equiv.StatusPass:
		fmt.Fprintln(f.Writer, "✓ equivalent on witness database")
	case equiv.StatusBlocked:
		fmt.Fprintf(f.Writer, "? blocked: %s\n", v.BlockerReason)
	default:
		fmt.Fprintln(f.Writer, "✗ not equivalent")
		fmt.Fprintf(f.Writer, "  schema match:   %v\n", v.SchemaMatch)
		fmt.Fprintf(f.Writer, "  rowcount match: %v\n", v.RowcountMatch)
		fmt.Fprintf(f.Writer, "  checksum match: %v\n", v.ChecksumMatch)
	}
}

// evaluatorOptions wires the optional recipe registry into the witness
// synthesizer.
func evaluatorOptions(sch *schema.Schema, recipesPath string) ([]search.EvalOption, error) {
	if recipesPath == "" {
		return nil, nil
	}
	reg, err := recipe.LoadFile(recipesPath)
	if err != nil {
		return nil, err
	}
	return []search.EvalOption{
		search.WithSynthesizer(synth.New(synth.WithSchema(sch), synth.WithRecipes(reg))),
	}, nil
}

func commandError(f *OutputFormatter, code string, err error) error {
	_ = f.Error(code, err.Error())
	return WrapExitError(ExitCommandError, code, err)
}

func readQueryFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read query file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("query file %s is empty", path)
	}
	return text, nil
}
