package search

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmakaro/requal/internal/bench"
	"github.com/tmakaro/requal/internal/equiv"
	"github.com/tmakaro/requal/internal/extract"
	"github.com/tmakaro/requal/internal/recipe"
	"github.com/tmakaro/requal/internal/schema"
	"github.com/tmakaro/requal/internal/scratch"
	"github.com/tmakaro/requal/internal/sqlq"
	"github.com/tmakaro/requal/internal/synth"
)

func evalSchema() *schema.Schema {
	return &schema.Schema{Tables: []schema.Table{
		{Name: "users", Columns: []schema.Column{
			{Name: "id", Type: "INTEGER"},
			{Name: "name", Type: "TEXT"},
		}},
	}}
}

func newEvaluator(t *testing.T, baseline string) *ProbeEvaluator {
	t.Helper()
	ev, err := NewProbeEvaluator(context.Background(), baseline, "sqlite", evalSchema(),
		WithHarness(bench.New(bench.WithRuns(3), bench.WithTimeout(5*time.Second))))
	require.NoError(t, err)
	return ev
}

func TestProbeEvaluatorPassesEquivalentRewrite(t *testing.T) {
	ev := newEvaluator(t, "SELECT id FROM users u WHERE u.id = 1")

	c := NewCandidate(Proposal{SQL: "SELECT id FROM users u WHERE 1 = u.id"})
	require.NoError(t, ev.Evaluate(context.Background(), c))

	require.NotNil(t, c.Verdict)
	assert.Equal(t, equiv.StatusPass, c.Verdict.Status)
	require.NotNil(t, c.Bench, "a Pass gets benchmarked")
	assert.Greater(t, c.Bench.Speedup, 0.0)
}

func TestProbeEvaluatorFailsNonEquivalentRewrite(t *testing.T) {
	ev := newEvaluator(t, "SELECT id FROM users u WHERE u.id = 1")

	c := NewCandidate(Proposal{SQL: "SELECT id FROM users u WHERE u.id = 999"})
	require.NoError(t, ev.Evaluate(context.Background(), c))

	require.NotNil(t, c.Verdict)
	assert.Equal(t, equiv.StatusFail, c.Verdict.Status)
	assert.Nil(t, c.Bench, "failed candidates are never timed")
}

func TestProbeEvaluatorBlocksEmptyCandidate(t *testing.T) {
	ev := newEvaluator(t, "SELECT id FROM users u WHERE u.id = 1")

	c := NewCandidate(Proposal{SQL: "   "})
	require.NoError(t, ev.Evaluate(context.Background(), c))

	require.NotNil(t, c.Verdict)
	assert.Equal(t, equiv.StatusBlocked, c.Verdict.Status)
	assert.NotEmpty(t, c.Verdict.BlockerReason)
}

func TestProbeEvaluatorBlocksUnparsableCandidate(t *testing.T) {
	ev := newEvaluator(t, "SELECT id FROM users u WHERE u.id = 1")

	c := NewCandidate(Proposal{SQL: "SELEKT nonsense"})
	require.NoError(t, ev.Evaluate(context.Background(), c))

	require.NotNil(t, c.Verdict)
	assert.Equal(t, equiv.StatusBlocked, c.Verdict.Status)
}

func TestProbeEvaluatorRejectsUnsatBaseline(t *testing.T) {
	_, err := NewProbeEvaluator(context.Background(),
		"SELECT id FROM users u WHERE u.name = 'A' AND u.name = 'B'", "sqlite", evalSchema())

	require.Error(t, err)
	assert.True(t, synth.IsUnsat(err))
}

func TestProbeEvaluatorCandidatesAreIsolated(t *testing.T) {
	ev := newEvaluator(t, "SELECT id FROM users u WHERE u.id = 1")

	// A candidate that mutates its scratch database must not affect the
	// next candidate's view. DROP TABLE does not parse as a query, so the
	// candidate fails on its own.
	bad := NewCandidate(Proposal{SQL: "DROP TABLE users"})
	require.NoError(t, ev.Evaluate(context.Background(), bad))
	assert.NotEqual(t, equiv.StatusPass, bad.Verdict.Status)

	good := NewCandidate(Proposal{SQL: "SELECT id FROM users u WHERE u.id = 1"})
	require.NoError(t, ev.Evaluate(context.Background(), good))
	assert.Equal(t, equiv.StatusPass, good.Verdict.Status)
}

func TestProbeEvaluatorFixtureCacheSharesBuilds(t *testing.T) {
	cache := scratch.NewFixtureCache()
	defer cache.Close()

	var opens int32
	ev, err := NewProbeEvaluator(context.Background(),
		"SELECT id FROM users u WHERE u.id = 1", "sqlite", evalSchema(),
		WithHarness(bench.New(bench.WithRuns(3), bench.WithTimeout(5*time.Second))),
		WithFixtureCache(cache),
		WithOpener(func(context.Context) (*scratch.DB, error) {
			atomic.AddInt32(&opens, 1)
			return scratch.OpenSQLite()
		}))
	require.NoError(t, err)

	for _, sql := range []string{
		"SELECT id FROM users u WHERE 1 = u.id",
		"SELECT id FROM users u WHERE u.id = 1",
	} {
		c := NewCandidate(Proposal{SQL: sql})
		require.NoError(t, ev.Evaluate(context.Background(), c))
		assert.Equal(t, equiv.StatusPass, c.Verdict.Status, sql)
	}

	// One open for the baseline probe, one for the shared fixture build.
	assert.Equal(t, int32(2), atomic.LoadInt32(&opens))
}

func TestProbeEvaluatorRecipeRegistryCoversUnsolvedShape(t *testing.T) {
	const baseline = "SELECT id FROM users u WHERE u.name LIKE 'al%'"

	_, err := NewProbeEvaluator(context.Background(), baseline, "sqlite", evalSchema())
	require.True(t, synth.IsUnsolved(err), "LIKE has no generic witness rule")

	q, err := sqlq.Parse(baseline, "sqlite")
	require.NoError(t, err)
	g, err := extract.Extract(q)
	require.NoError(t, err)

	src := fmt.Sprintf(`
registry: {
	version: "test"
	recipes: {
		%q: {
			version: "v1"
			rows: [{table: "users", values: {id: 7, name: "alice"}}]
		}
	}
}
`, g.Fingerprint())
	reg, err := recipe.Load([]byte(src), "registry.cue")
	require.NoError(t, err)

	ev, err := NewProbeEvaluator(context.Background(), baseline, "sqlite", evalSchema(),
		WithHarness(bench.New(bench.WithRuns(3), bench.WithTimeout(5*time.Second))),
		WithSynthesizer(synth.New(synth.WithSchema(evalSchema()), synth.WithRecipes(reg))))
	require.NoError(t, err)

	c := NewCandidate(Proposal{SQL: "SELECT id FROM users u WHERE u.name LIKE 'al%'"})
	require.NoError(t, ev.Evaluate(context.Background(), c))
	assert.Equal(t, equiv.StatusPass, c.Verdict.Status)
}

func TestProbeEvaluatorRebenchmarkReusesPassInRaceMode(t *testing.T) {
	ev, err := NewProbeEvaluator(context.Background(),
		"SELECT id FROM users u WHERE u.id = 1", "sqlite", evalSchema(),
		WithHarness(bench.New(bench.WithRuns(3), bench.WithTimeout(5*time.Second))),
		WithValidator(equiv.New(equiv.WithRaceMode())))
	require.NoError(t, err)

	c := NewCandidate(Proposal{SQL: "SELECT id FROM users u WHERE 1 = u.id"})
	require.NoError(t, ev.Evaluate(context.Background(), c))
	require.Equal(t, equiv.StatusPass, c.Verdict.Status)
	prior := *c.Verdict

	require.NoError(t, ev.Rebenchmark(context.Background(), c))
	assert.Equal(t, prior, *c.Verdict, "a strict Pass is carried forward")
	require.NotNil(t, c.Bench, "timing is refreshed")
}
