package synth

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmakaro/requal/internal/extract"
	"github.com/tmakaro/requal/internal/graph"
	"github.com/tmakaro/requal/internal/schema"
	"github.com/tmakaro/requal/internal/sqlq"
)

func graphOf(t *testing.T, sql string) *graph.Graph {
	t.Helper()
	q, err := sqlq.Parse(sql, "sqlite")
	require.NoError(t, err)
	g, err := extract.Extract(q)
	require.NoError(t, err)
	return g
}

func TestSynthesizePinAndRange(t *testing.T) {
	g := graphOf(t, "SELECT * FROM t WHERE t.a = 1 AND t.b > 2")

	plan, err := New().Synthesize(g)
	require.NoError(t, err)

	rows := plan.RowsFor("t")
	require.Len(t, rows, 1)
	assert.Equal(t, sqlq.Int(1), rows[0].Values["a"])
	assert.Equal(t, sqlq.Int(3), rows[0].Values["b"], "open low bound picks the next integer")
}

func TestSynthesizeGoldenPlan(t *testing.T) {
	g := graphOf(t, "SELECT * FROM t WHERE t.a = 1 AND t.b > 2")

	plan, err := New().Synthesize(g)
	require.NoError(t, err)

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "simple_plan", []byte(plan.Canonical()))
}

func TestSynthesizeDeterministic(t *testing.T) {
	const sql = `SELECT * FROM orders o
		JOIN users u ON o.user_id = u.id
		WHERE u.name = 'alice' AND o.total > 10`

	var first string
	for i := 0; i < 5; i++ {
		plan, err := New().Synthesize(graphOf(t, sql))
		require.NoError(t, err)
		if i == 0 {
			first = plan.Canonical()
			continue
		}
		require.Equal(t, first, plan.Canonical(),
			"same graph and version must give a byte-identical plan")
	}
}

func TestSynthesizeContradictoryPinsAreUnsat(t *testing.T) {
	g := graphOf(t, "SELECT * FROM t WHERE t.col = 'A' AND t.col = 'B'")

	_, err := New().Synthesize(g)
	require.True(t, IsUnsat(err), "two different pins on one column admit no witness")

	var ue *UnsatError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "col", ue.Column.Column)
	assert.Equal(t, sqlq.Str("A"), ue.First.Literal)
	assert.Equal(t, sqlq.Str("B"), ue.Second.Literal)
}

func TestSynthesizeEmptyIntervalIsUnsat(t *testing.T) {
	g := graphOf(t, "SELECT * FROM t WHERE t.a > 5 AND t.a < 3")

	_, err := New().Synthesize(g)
	assert.True(t, IsUnsat(err))
}

func TestSynthesizePinOutsideRangeIsUnsat(t *testing.T) {
	g := graphOf(t, "SELECT * FROM t WHERE t.a = 1 AND t.a > 5")

	_, err := New().Synthesize(g)
	assert.True(t, IsUnsat(err))
}

func TestSynthesizeEqualityPropagatesThroughFamily(t *testing.T) {
	g := graphOf(t, "SELECT * FROM a, b WHERE a.x = b.y AND b.y = 7")

	plan, err := New().Synthesize(g)
	require.NoError(t, err)

	assert.Equal(t, sqlq.Int(7), plan.RowsFor("a")[0].Values["x"])
	assert.Equal(t, sqlq.Int(7), plan.RowsFor("b")[0].Values["y"])
}

func TestSynthesizeArithmeticOffset(t *testing.T) {
	g := graphOf(t, "SELECT * FROM a, b WHERE a.x = b.y + 3 AND b.y = 10")

	plan, err := New().Synthesize(g)
	require.NoError(t, err)

	assert.Equal(t, sqlq.Int(13), plan.RowsFor("a")[0].Values["x"])
	assert.Equal(t, sqlq.Int(10), plan.RowsFor("b")[0].Values["y"])
}

func TestSynthesizeMixedClosednessBounds(t *testing.T) {
	// At equal bound values the strict comparison wins, whichever
	// conjunct the extractor saw first.
	for _, sql := range []string{
		"SELECT * FROM t WHERE t.a >= 5 AND t.a > 5",
		"SELECT * FROM t WHERE t.a > 5 AND t.a >= 5",
	} {
		plan, err := New().Synthesize(graphOf(t, sql))
		require.NoError(t, err, sql)

		rows := plan.RowsFor("t")
		require.Len(t, rows, 1, sql)
		assert.Equal(t, sqlq.Int(6), rows[0].Values["a"], sql)
	}
}

func TestSynthesizeOffsetChainOverDefaults(t *testing.T) {
	for _, sql := range []string{
		"SELECT * FROM t WHERE t.c = t.a + 2 AND t.a = t.b + 1",
		"SELECT * FROM t WHERE t.a = t.b + 1 AND t.c = t.a + 2",
	} {
		plan, err := New().Synthesize(graphOf(t, sql))
		require.NoError(t, err, sql)

		rows := plan.RowsFor("t")
		require.Len(t, rows, 1, sql)
		a := int64(rows[0].Values["a"].(sqlq.Int))
		b := int64(rows[0].Values["b"].(sqlq.Int))
		c := int64(rows[0].Values["c"].(sqlq.Int))
		assert.Equal(t, b+1, a, sql)
		assert.Equal(t, a+2, c, sql)
	}
}

func TestSynthesizeCountThresholdDuplicatesRows(t *testing.T) {
	g := graphOf(t, "SELECT dept FROM emp GROUP BY dept HAVING COUNT(*) > 4")

	plan, err := New().Synthesize(g)
	require.NoError(t, err)

	rows := plan.RowsFor("emp")
	require.Len(t, rows, 5, "COUNT(*) > 4 needs exactly five rows sharing the key")
	for _, r := range rows[1:] {
		assert.Equal(t, rows[0].Values["dept"], r.Values["dept"],
			"duplicated rows share the grouping key")
	}
}

func TestSynthesizeSkipEligibleTablesStayEmpty(t *testing.T) {
	g := graphOf(t, `SELECT * FROM users u
		WHERE NOT EXISTS (SELECT 1 FROM bans b WHERE b.user_id = u.id)`)

	plan, err := New().Synthesize(g)
	require.NoError(t, err)

	assert.NotEmpty(t, plan.RowsFor("users"))
	assert.Empty(t, plan.RowsFor("bans"), "anti-joined tables get zero rows")
}

func TestSynthesizeUnsolvedWithoutRecipe(t *testing.T) {
	g := graphOf(t, "SELECT * FROM t WHERE t.a LIKE 'x%'")

	_, err := New().Synthesize(g)
	require.True(t, IsUnsolved(err))

	var ue *UnsolvedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, g.Fingerprint(), ue.Fingerprint)
	assert.NotEmpty(t, ue.Edges)
}

type mapSource map[string]Recipe

func (m mapSource) Lookup(fp string) (Recipe, bool) {
	r, ok := m[fp]
	return r, ok
}

func TestSynthesizeRecipeFallback(t *testing.T) {
	g := graphOf(t, "SELECT * FROM t WHERE t.a LIKE 'x%'")

	recipes := mapSource{g.Fingerprint(): Recipe{
		Version: "r1",
		Rows:    []Row{{Table: "t", Values: map[string]sqlq.Value{"a": sqlq.Str("x1")}}},
		Widened: []Row{
			{Table: "t", Values: map[string]sqlq.Value{"a": sqlq.Str("x1")}},
			{Table: "t", Values: map[string]sqlq.Value{"a": sqlq.Str("x2")}},
		},
	}}

	s := New(WithRecipes(recipes))
	plan, err := s.Synthesize(g)
	require.NoError(t, err)
	assert.Equal(t, "r1", plan.Recipe)
	assert.Len(t, plan.RowsFor("t"), 1)

	wide, err := s.Widen(g)
	require.NoError(t, err)
	assert.Len(t, wide.RowsFor("t"), 2, "the widened retry uses the recipe's widened rows")
}

func TestWidenRaisesGenericRowCount(t *testing.T) {
	g := graphOf(t, "SELECT * FROM t WHERE t.a = 1")

	s := New()
	plan, err := s.Synthesize(g)
	require.NoError(t, err)
	require.Len(t, plan.RowsFor("t"), 1)

	wide, err := s.Widen(g)
	require.NoError(t, err)
	assert.Len(t, wide.RowsFor("t"), 2)
}

func TestSynthesizeSchemaOrdersParentsFirst(t *testing.T) {
	sch := &schema.Schema{Tables: []schema.Table{
		{Name: "orders", Columns: []schema.Column{{Name: "user_id", Type: "INTEGER"}},
			ForeignKeys: []schema.ForeignKey{{Column: "user_id", Parent: "users", ParentColumn: "id"}}},
		{Name: "users", Columns: []schema.Column{{Name: "id", Type: "INTEGER"}}},
	}}
	g := graphOf(t, "SELECT * FROM orders o JOIN users u ON o.user_id = u.id")

	plan, err := New(WithSchema(sch)).Synthesize(g)
	require.NoError(t, err)

	require.Len(t, plan.Tables, 2)
	assert.Equal(t, "users", plan.Tables[0].Table)
	assert.Equal(t, "orders", plan.Tables[1].Table)
}

func TestSynthesizeTextAnchorsFromSchema(t *testing.T) {
	sch := &schema.Schema{Tables: []schema.Table{
		{Name: "users", Columns: []schema.Column{{Name: "name", Type: "TEXT"}, {Name: "id", Type: "INTEGER"}}},
	}}
	// Constrain name without pinning it so the default anchor applies.
	g := graphOf(t, "SELECT * FROM users u, archived v WHERE u.name = v.name")

	plan, err := New(WithSchema(sch)).Synthesize(g)
	require.NoError(t, err)

	v := plan.RowsFor("users")[0].Values["name"]
	_, isStr := v.(sqlq.Str)
	assert.True(t, isStr, "text columns get string anchors, got %#v", v)
}
