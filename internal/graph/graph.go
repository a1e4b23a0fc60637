// Package graph defines the constraint graph extracted from a query:
// table references as nodes, classified predicates as edges. A graph is
// built once per query and is read-only afterwards.
package graph

import (
	"fmt"
	"sort"

	"github.com/tmakaro/requal/internal/sqlq"
)

// Table is a node: one table reference in the query's FROM tree.
// Alias equals Name when the reference is unaliased.
type Table struct {
	Name  string
	Alias string
}

// ColumnRef names a column through its table alias.
type ColumnRef struct {
	Table  string // alias
	Column string
}

func (c ColumnRef) String() string { return c.Table + "." + c.Column }

// Kind classifies an edge.
type Kind int

const (
	// KindEquality pins a column to another column or to a literal.
	KindEquality Kind = iota + 1
	// KindRange bounds a column by literal(s), open or closed per side.
	KindRange
	// KindArithmeticOffset relates two columns by a signed constant:
	// left = right + Offset.
	KindArithmeticOffset
	// KindAggregateThreshold bounds an aggregate over a grouping key
	// (HAVING or a correlated scalar-subquery comparison).
	KindAggregateThreshold
	// KindAntiPattern marks a table reachable only through
	// NOT EXISTS / NOT IN / EXCEPT as skip-eligible.
	KindAntiPattern
	// KindUnsolved records a predicate the extractor could not classify.
	// Never dropped; the synthesizer surfaces it instead of guessing.
	KindUnsolved
)

func (k Kind) String() string {
	switch k {
	case KindEquality:
		return "equality"
	case KindRange:
		return "range"
	case KindArithmeticOffset:
		return "arithmetic-offset"
	case KindAggregateThreshold:
		return "aggregate-threshold"
	case KindAntiPattern:
		return "anti-pattern"
	case KindUnsolved:
		return "unsolved"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Edge is one classified constraint. Which fields are meaningful depends
// on Kind:
//
//	Equality:            Left, and exactly one of Right / Literal
//	Range:               Left, Low/High (nil = unbounded), *Closed flags
//	ArithmeticOffset:    Left, Right, Offset
//	AggregateThreshold:  Agg, AggColumn, Op, Bound, GroupBy, Left(=GroupBy[0])
//	AntiPattern:         Left.Table (the skip-eligible table)
//	Unsolved:            Raw (original predicate text)
type Edge struct {
	Kind Kind

	Left  ColumnRef
	Right *ColumnRef

	Literal sqlq.Value

	Low        sqlq.Value
	High       sqlq.Value
	LowClosed  bool
	HighClosed bool

	Offset int64

	Agg       string // aggregate function, lowercase ("count", "sum", ...)
	AggColumn string // argument column, "*" for COUNT(*)
	AggTable  string // alias of the table whose rows the aggregate ranges over
	Op        string // comparison operator as written: > >= < <= = <>
	Bound     sqlq.Value
	GroupBy   []ColumnRef

	Raw string
}

// Graph is the read-only constraint graph. Build one with a Builder.
type Graph struct {
	tables []Table
	edges  []Edge
}

// Tables returns the table nodes in FROM-clause appearance order.
// The returned slice is a copy.
func (g *Graph) Tables() []Table {
	out := make([]Table, len(g.tables))
	copy(out, g.tables)
	return out
}

// Edges returns the edges in extraction order. The returned slice is a copy.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// EdgesOfKind returns the edges of one kind, in extraction order.
func (g *Graph) EdgesOfKind(k Kind) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// TableByAlias looks up a node by alias.
func (g *Graph) TableByAlias(alias string) (Table, bool) {
	for _, t := range g.tables {
		if t.Alias == alias {
			return t, true
		}
	}
	return Table{}, false
}

// SkipEligible returns the aliases marked skip-eligible by anti-pattern
// edges, sorted for determinism.
func (g *Graph) SkipEligible() []string {
	seen := map[string]bool{}
	for _, e := range g.edges {
		if e.Kind == KindAntiPattern {
			seen[e.Left.Table] = true
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Builder accumulates tables and edges, then freezes them into a Graph.
// The zero value is ready to use.
type Builder struct {
	g Graph
}

// AddTable registers a table node. Duplicate aliases are ignored so the
// extractor can register references as it encounters them.
func (b *Builder) AddTable(name, alias string) {
	if alias == "" {
		alias = name
	}
	for _, t := range b.g.tables {
		if t.Alias == alias {
			return
		}
	}
	b.g.tables = append(b.g.tables, Table{Name: name, Alias: alias})
}

// AddEdge appends an edge.
func (b *Builder) AddEdge(e Edge) {
	b.g.edges = append(b.g.edges, e)
}

// Build freezes the graph. The builder must not be used afterwards.
func (b *Builder) Build() *Graph {
	g := b.g
	b.g = Graph{}
	return &g
}
