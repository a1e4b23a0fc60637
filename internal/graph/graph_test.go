package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmakaro/requal/internal/sqlq"
)

func buildPair(lit sqlq.Value) *Graph {
	var b Builder
	b.AddTable("orders", "o")
	b.AddTable("users", "u")
	b.AddEdge(Edge{
		Kind:  KindEquality,
		Left:  ColumnRef{Table: "o", Column: "user_id"},
		Right: &ColumnRef{Table: "u", Column: "id"},
	})
	b.AddEdge(Edge{
		Kind:    KindEquality,
		Left:    ColumnRef{Table: "u", Column: "name"},
		Literal: lit,
	})
	return b.Build()
}

func TestFingerprintElidesLiterals(t *testing.T) {
	a := buildPair(sqlq.Str("alice"))
	b := buildPair(sqlq.Str("bob"))

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(),
		"queries differing only in literal values share a fingerprint")
}

func TestFingerprintSeesStructure(t *testing.T) {
	a := buildPair(sqlq.Str("alice"))

	var bb Builder
	bb.AddTable("orders", "o")
	bb.AddTable("users", "u")
	bb.AddEdge(Edge{
		Kind:  KindEquality,
		Left:  ColumnRef{Table: "o", Column: "user_id"},
		Right: &ColumnRef{Table: "u", Column: "id"},
	})
	bb.AddEdge(Edge{
		Kind: KindRange,
		Left: ColumnRef{Table: "u", Column: "name"},
		Low:  sqlq.Str("alice"), LowClosed: true,
	})
	b := bb.Build()

	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint(),
		"a pin and a range over the same column are different shapes")
}

func TestFingerprintIgnoresEdgeOrder(t *testing.T) {
	var b1 Builder
	b1.AddTable("t", "t")
	b1.AddEdge(Edge{Kind: KindEquality, Left: ColumnRef{Table: "t", Column: "a"}, Literal: sqlq.Int(1)})
	b1.AddEdge(Edge{Kind: KindAntiPattern, Left: ColumnRef{Table: "t", Column: ""}})

	var b2 Builder
	b2.AddTable("t", "t")
	b2.AddEdge(Edge{Kind: KindAntiPattern, Left: ColumnRef{Table: "t", Column: ""}})
	b2.AddEdge(Edge{Kind: KindEquality, Left: ColumnRef{Table: "t", Column: "a"}, Literal: sqlq.Int(1)})

	assert.Equal(t, b1.Build().Fingerprint(), b2.Build().Fingerprint())
}

func TestBuilderDeduplicatesAliases(t *testing.T) {
	var b Builder
	b.AddTable("users", "u")
	b.AddTable("users", "u")
	g := b.Build()

	assert.Len(t, g.Tables(), 1)
}

func TestBuilderDefaultsAliasToName(t *testing.T) {
	var b Builder
	b.AddTable("users", "")
	g := b.Build()

	tbl, ok := g.TableByAlias("users")
	require.True(t, ok)
	assert.Equal(t, "users", tbl.Name)
}

func TestSkipEligible(t *testing.T) {
	var b Builder
	b.AddTable("users", "u")
	b.AddTable("banned", "bn")
	b.AddEdge(Edge{Kind: KindAntiPattern, Left: ColumnRef{Table: "bn"}})
	g := b.Build()

	skip := g.SkipEligible()
	assert.Equal(t, []string{"bn"}, skip)
}

func TestAccessorsReturnCopies(t *testing.T) {
	g := buildPair(sqlq.Str("alice"))

	edges := g.Edges()
	edges[0].Kind = KindUnsolved

	assert.Equal(t, KindEquality, g.Edges()[0].Kind,
		"mutating a returned slice must not affect the graph")
}
