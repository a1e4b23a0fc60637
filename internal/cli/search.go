package cli

import (
	"github.com/spf13/cobra"

	"github.com/tmakaro/requal/internal/schema"
	"github.com/tmakaro/requal/internal/scratch"
	"github.com/tmakaro/requal/internal/search"
)

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		schemaPath  string
		recipesPath string
		iterations  int
		exploration float64
		minSpeedup  float64
		requireWin  bool
	)

	cmd := &cobra.Command{
		Use:   "search <query.sql>",
		Short: "Search rule-derived rewrites of a query with a guided tree",
		Long: `Explore compositions of the built-in rewrite rules starting from the
given query. Each explored rewrite is validated on a synthetic witness
database and benchmarked if it passes; tree selection favors rule paths
that produced fast verified candidates.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(rootOpts, schemaPath, recipesPath, args[0], iterations, exploration, minSpeedup, requireWin, cmd)
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "DDL script describing the target schema (required)")
	cmd.Flags().StringVar(&recipesPath, "recipes", "", "CUE recipe registry for constraint shapes the solver cannot cover")
	cmd.Flags().IntVar(&iterations, "iterations", 32, "tree search iterations")
	cmd.Flags().Float64Var(&exploration, "exploration", 1.4, "exploration constant")
	cmd.Flags().Float64Var(&minSpeedup, "min-speedup", 1.0, "speedup a winner must reach to replace the baseline")
	cmd.Flags().BoolVar(&requireWin, "require-win", false, "exit non-zero when the baseline is retained")
	cmd.MarkFlagRequired("schema")

	return cmd
}

func runSearch(opts *RootOptions, schemaPath, recipesPath, queryPath string, iterations int, exploration, minSpeedup float64, requireWin bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	text, err := readQueryFile(queryPath)
	if err != nil {
		return commandError(formatter, "E202", err)
	}
	sch, err := schema.LoadFile(schemaPath)
	if err != nil {
		return commandError(formatter, "E201", err)
	}

	evalOpts, err := evaluatorOptions(sch, recipesPath)
	if err != nil {
		return commandError(formatter, "E205", err)
	}
	cache := scratch.NewFixtureCache()
	defer cache.Close()
	evalOpts = append(evalOpts, search.WithFixtureCache(cache))

	ev, err := search.NewProbeEvaluator(cmd.Context(), text, opts.Dialect, sch, evalOpts...)
	if err != nil {
		return commandError(formatter, "E204", err)
	}
	formatter.VerboseLog("searching %d iteration(s) from %s", iterations, queryPath)

	strategy := search.NewTreeStrategy(
		search.WithIterations(iterations),
		search.WithExploration(exploration),
		search.WithTreeMinSpeedup(minSpeedup),
	)
	outcome, err := strategy.Run(cmd.Context(), ev)
	if err != nil {
		return commandError(formatter, "E221", err)
	}
	return reportOutcome(formatter, opts, outcome, requireWin)
}
