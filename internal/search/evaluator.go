package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmakaro/requal/internal/bench"
	"github.com/tmakaro/requal/internal/equiv"
	"github.com/tmakaro/requal/internal/extract"
	"github.com/tmakaro/requal/internal/graph"
	"github.com/tmakaro/requal/internal/scratch"
	"github.com/tmakaro/requal/internal/schema"
	"github.com/tmakaro/requal/internal/sqlq"
	"github.com/tmakaro/requal/internal/synth"
)

// Opener opens a fresh scratch database for one candidate. Candidates
// never share a writable instance.
type Opener func(ctx context.Context) (*scratch.DB, error)

// ProbeEvaluator implements the Evaluator contract over the cheap
// correctness path: witness synthesis, scratch-database probing, result
// comparison, then benchmarking on the scratch instance. An optional
// full-scale target adds final confirmation against real data.
type ProbeEvaluator struct {
	baseline    *sqlq.Query
	sch         *schema.Schema
	synthesizer *synth.Synthesizer
	validator   *equiv.Validator
	harness     *bench.Harness
	open        Opener
	cache       *scratch.FixtureCache

	g    *graph.Graph
	plan *synth.Plan

	baselineRS  *sqlq.ResultSet
	baselineLat time.Duration

	target    sqlq.Querier // nil: scratch-only validation
	targetRS  *sqlq.ResultSet
	targetLat time.Duration
}

// EvalOption configures a ProbeEvaluator.
type EvalOption func(*ProbeEvaluator)

// WithSynthesizer replaces the default witness synthesizer.
func WithSynthesizer(s *synth.Synthesizer) EvalOption {
	return func(e *ProbeEvaluator) { e.synthesizer = s }
}

// WithValidator replaces the default strict validator.
func WithValidator(v *equiv.Validator) EvalOption {
	return func(e *ProbeEvaluator) { e.validator = v }
}

// WithHarness replaces the default benchmark harness.
func WithHarness(h *bench.Harness) EvalOption {
	return func(e *ProbeEvaluator) { e.harness = h }
}

// WithOpener replaces the scratch-database opener (default: in-memory
// sqlite per candidate).
func WithOpener(open Opener) EvalOption {
	return func(e *ProbeEvaluator) { e.open = open }
}

// WithTarget adds a full-scale connection: candidates that pass the cheap
// probe check are re-validated and benchmarked against it.
func WithTarget(db sqlq.Querier) EvalOption {
	return func(e *ProbeEvaluator) { e.target = db }
}

// WithFixtureCache shares one read-only scratch build per witness
// fingerprint across candidates instead of rebuilding per evaluation.
// Teardown of cached fixtures stays with the cache's owner.
func WithFixtureCache(c *scratch.FixtureCache) EvalOption {
	return func(e *ProbeEvaluator) { e.cache = c }
}

// widener adapts the synthesizer's widened re-solve to the probe retry.
type widener struct {
	s *synth.Synthesizer
	g *graph.Graph
}

func (w widener) Widen() (*synth.Plan, error) { return w.s.Widen(w.g) }

// NewProbeEvaluator extracts and solves the baseline query's constraint
// graph and establishes the baseline result set and latency.
//
// UNSAT and Unsolved surface here as errors: the caller owns the decision
// to skip cheap validation for this query, so one pathological baseline
// never aborts anything beyond its own round.
func NewProbeEvaluator(ctx context.Context, baselineSQL, dialect string, sch *schema.Schema, opts ...EvalOption) (*ProbeEvaluator, error) {
	q, err := sqlq.Parse(baselineSQL, dialect)
	if err != nil {
		return nil, err
	}

	e := &ProbeEvaluator{
		baseline:  q,
		sch:       sch,
		validator: equiv.New(),
		harness:   bench.New(),
		open: func(context.Context) (*scratch.DB, error) {
			return scratch.OpenSQLite()
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.synthesizer == nil {
		e.synthesizer = synth.New(synth.WithSchema(sch))
	}

	e.g, err = extract.Extract(q)
	if err != nil {
		return nil, fmt.Errorf("extract baseline constraints: %w", err)
	}
	e.plan, err = e.synthesizer.Synthesize(e.g)
	if err != nil {
		return nil, err
	}

	db, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rs, used, err := scratch.Probe(ctx, db, sch, e.plan, q, widener{s: e.synthesizer, g: e.g})
	if err != nil {
		return nil, fmt.Errorf("baseline probe: %w", err)
	}
	// When the probe fell back to the widened plan, candidates must be
	// compared against the rows that plan produced.
	e.baselineRS, e.plan = rs, used

	base, err := e.harness.Baseline(ctx, bench.QueryRunner{DB: db.Querier(), Text: q.Text})
	if err != nil {
		return nil, fmt.Errorf("baseline benchmark: %w", err)
	}
	e.baselineLat = base.TrimmedMean

	if e.target != nil {
		e.targetRS, err = sqlq.Collect(ctx, e.target, q.Text, q.HasExplicitOrder())
		if err != nil {
			return nil, fmt.Errorf("baseline full-scale run: %w", err)
		}
		full, err := e.harness.Baseline(ctx, bench.QueryRunner{DB: e.target, Text: q.Text})
		if err != nil {
			return nil, fmt.Errorf("baseline full-scale benchmark: %w", err)
		}
		e.targetLat = full.TrimmedMean
	}

	slog.Debug("evaluator ready",
		"fingerprint", e.plan.Fingerprint,
		"witness_rows", e.plan.RowCount(),
		"baseline_rows", e.baselineRS.RowCount(),
		"baseline_latency", e.baselineLat,
	)
	return e, nil
}

// BaselineSQL implements Evaluator.
func (e *ProbeEvaluator) BaselineSQL() string { return e.baseline.Text }

// Plan exposes the witness plan for reporting.
func (e *ProbeEvaluator) Plan() *synth.Plan { return e.plan }

// Evaluate runs the validate-then-benchmark sequence for one candidate.
// Without a fixture cache the candidate gets its own scratch database;
// with one, it reads the shared build for the witness fingerprint.
// Verdict-level failures (Fail, Blocked) are recorded on the candidate
// and are not errors.
func (e *ProbeEvaluator) Evaluate(ctx context.Context, c *Candidate) error {
	if strings.TrimSpace(c.SQL) == "" {
		v := equiv.Verdict{Status: equiv.StatusBlocked, BlockerReason: "candidate text absent"}
		c.Verdict = &v
		return nil
	}
	cq, err := sqlq.Parse(c.SQL, e.baseline.Dialect)
	if err != nil {
		v := equiv.Verdict{Status: equiv.StatusBlocked, BlockerReason: fmt.Sprintf("candidate does not parse: %v", err)}
		c.Verdict = &v
		return nil
	}

	db, owned, err := e.scratchFor(ctx)
	if err != nil {
		return fmt.Errorf("candidate %s: scratch: %w", c.ID, err)
	}
	if owned {
		defer db.Close()
	}

	candRS, err := sqlq.Collect(ctx, db.Querier(), cq.Text, cq.HasExplicitOrder())
	if err != nil {
		// Execution errors count against the candidate only.
		v := equiv.Verdict{Status: equiv.StatusFail}
		c.Verdict = &v
		slog.Debug("candidate failed to execute", "candidate", c.ID, "error", err)
		return nil
	}

	verdict := e.validator.Compare(e.baselineRS, candRS)
	c.Verdict = &verdict
	if verdict.Status != equiv.StatusPass {
		slog.Debug("candidate rejected before timing",
			"candidate", c.ID, "status", verdict.Status.String())
		return nil
	}

	// Full-scale confirmation, when a target is configured.
	runDB, lat := db.Querier(), e.baselineLat
	if e.target != nil {
		fullRS, err := sqlq.Collect(ctx, e.target, cq.Text, cq.HasExplicitOrder())
		if err != nil {
			v := equiv.Verdict{Status: equiv.StatusFail}
			c.Verdict = &v
			return nil
		}
		full := e.validator.Compare(e.targetRS, fullRS)
		c.Verdict = &full
		if full.Status != equiv.StatusPass {
			return nil
		}
		runDB, lat = e.target, e.targetLat
	}

	res, err := e.harness.Measure(ctx, bench.QueryRunner{DB: runDB, Text: cq.Text}, lat)
	if err != nil {
		return fmt.Errorf("candidate %s: benchmark: %w", c.ID, err)
	}
	c.Bench = &res
	return nil
}

// Rebenchmark implements Rebenchmarker: it refreshes an already-evaluated
// candidate's verdict and timing right before promotion. The validator
// decides how much is re-derived; in race mode a prior strict Pass is
// carried forward and only the timing is measured again.
func (e *ProbeEvaluator) Rebenchmark(ctx context.Context, c *Candidate) error {
	cq, err := sqlq.Parse(c.SQL, e.baseline.Dialect)
	if err != nil {
		v := equiv.Verdict{Status: equiv.StatusBlocked, BlockerReason: fmt.Sprintf("candidate does not parse: %v", err)}
		c.Verdict = &v
		return nil
	}

	db, owned, err := e.scratchFor(ctx)
	if err != nil {
		return fmt.Errorf("candidate %s: scratch: %w", c.ID, err)
	}
	if owned {
		defer db.Close()
	}

	var candRS *sqlq.ResultSet
	if !e.validator.ReusesPass(c.Verdict) {
		candRS, err = sqlq.Collect(ctx, db.Querier(), cq.Text, cq.HasExplicitOrder())
		if err != nil {
			v := equiv.Verdict{Status: equiv.StatusFail}
			c.Verdict = &v
			c.Bench = nil
			return nil
		}
	}
	verdict := e.validator.Revalidate(c.Verdict, e.baselineRS, candRS)
	c.Verdict = &verdict
	if verdict.Status != equiv.StatusPass {
		c.Bench = nil
		return nil
	}

	res, err := e.harness.Measure(ctx, bench.QueryRunner{DB: db.Querier(), Text: cq.Text}, e.baselineLat)
	if err != nil {
		return fmt.Errorf("candidate %s: benchmark: %w", c.ID, err)
	}
	c.Bench = &res
	return nil
}

// scratchFor returns a scratch database seeded with the witness plan.
// Without a fixture cache every caller owns a fresh instance; with one,
// candidates probing the same fingerprint share a single read-only build
// and must not close it.
func (e *ProbeEvaluator) scratchFor(ctx context.Context) (*scratch.DB, bool, error) {
	build := func() (*scratch.DB, error) {
		db, err := e.open(ctx)
		if err != nil {
			return nil, err
		}
		if err := db.Apply(ctx, e.sch); err != nil {
			db.Close()
			return nil, err
		}
		if err := db.Insert(ctx, e.plan); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
	if e.cache == nil {
		db, err := build()
		return db, true, err
	}
	db, err := e.cache.Get(e.plan.Fingerprint, build)
	return db, false, err
}
