package cli

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tmakaro/requal/internal/bench"
)

// BenchResult holds the timing report for one query.
type BenchResult struct {
	Query  string       `json:"query"`
	Result bench.Result `json:"result"`
}

// NewBenchCommand creates the bench command.
func NewBenchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dsn     string
		driver  string
		runs    int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench <query.sql>",
		Short: "Benchmark a query against a live database",
		Long: `Run a query repeatedly against the given DSN and report the
trimmed-mean latency. The first run is warmup and never counted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(rootOpts, dsn, driver, runs, timeout, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "database connection string (required)")
	cmd.Flags().StringVar(&driver, "driver", "sqlite3", "database/sql driver name (sqlite3|pgx)")
	cmd.Flags().IntVar(&runs, "runs", bench.DefaultRuns, "measured runs per query (minimum 3)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-run timeout (0: no limit)")
	cmd.MarkFlagRequired("dsn")

	return cmd
}

func runBench(opts *RootOptions, dsn, driver string, runs int, timeout time.Duration, queryPath string, cmd *cobra.Command) error {
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
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return commandError(formatter, "E210", err)
	}
	defer db.Close()
	if err := db.PingContext(cmd.Context()); err != nil {
		return commandError(formatter, "E210", fmt.Errorf("database unreachable: %w", err))
	}

	hopts := []bench.Option{bench.WithRuns(runs)}
	if timeout > 0 {
		hopts = append(hopts, bench.WithTimeout(timeout))
	}
	h := bench.New(hopts...)

	res, err := h.Baseline(cmd.Context(), bench.QueryRunner{DB: db, Text: text})
	if err != nil {
		return commandError(formatter, "E211", err)
	}

	if opts.Format == "json" {
		return formatter.Success(BenchResult{Query: queryPath, Result: res})
	}
	fmt.Fprintf(formatter.Writer, "trimmed mean: %s over %d run(s)\n", res.TrimmedMean, len(res.RawLatencies))
	if opts.Verbose {
		for i, lat := range res.RawLatencies {
			fmt.Fprintf(formatter.Writer, "  run %d: %s\n", i+1, lat)
		}
	}
	return nil
}
