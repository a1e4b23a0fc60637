// Package synth solves a constraint graph into a minimal deterministic
// witness plan, or proves it unsatisfiable.
//
// There is no randomness anywhere in this package: identical graph, solver
// version, and configuration always produce a byte-identical plan.
package synth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmakaro/requal/internal/graph"
	"github.com/tmakaro/requal/internal/schema"
	"github.com/tmakaro/requal/internal/sqlq"
)

// Recipe is one family-specific fallback: literal witness rows for a graph
// shape the generic rules cannot cover, plus a widened variant used by the
// soft-probe retry.
type Recipe struct {
	Version string
	Rows    []Row
	Widened []Row
}

// RecipeSource is the read-only registry of fallback recipes, keyed by
// structural fingerprint. The no-match branch is explicit and checked.
type RecipeSource interface {
	Lookup(fingerprint string) (Recipe, bool)
}

// emptySource is the default registry: it never matches.
type emptySource struct{}

func (emptySource) Lookup(string) (Recipe, bool) { return Recipe{}, false }

// Synthesizer turns constraint graphs into witness plans.
type Synthesizer struct {
	recipes RecipeSource
	schema  *schema.Schema
	minRows int
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithMinRows raises the minimum viable row count per required table.
// Default 1.
func WithMinRows(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.minRows = n
		}
	}
}

// WithRecipes installs a fallback-recipe registry.
func WithRecipes(rs RecipeSource) Option {
	return func(s *Synthesizer) {
		if rs != nil {
			s.recipes = rs
		}
	}
}

// WithSchema supplies the target schema, enabling parent-before-child
// table ordering and type-aware default anchors.
func WithSchema(sc *schema.Schema) Option {
	return func(s *Synthesizer) { s.schema = sc }
}

// New creates a Synthesizer.
func New(opts ...Option) *Synthesizer {
	s := &Synthesizer{recipes: emptySource{}, minRows: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize solves the graph. Returns *UnsatError for provable
// contradictions, *UnsolvedError when neither the generic rules nor a
// recipe cover the shape.
func (s *Synthesizer) Synthesize(g *graph.Graph) (*Plan, error) {
	return s.solve(g, s.minRows, false)
}

// Widen produces the widened plan for the soft-probe retry: the recipe's
// widened rows when a recipe matched, otherwise a generic re-solve with
// one extra row per table.
func (s *Synthesizer) Widen(g *graph.Graph) (*Plan, error) {
	return s.solve(g, s.minRows+1, true)
}

// unsolvedReason is an internal signal that the generic rules gave up;
// it routes to the recipe registry, never escapes directly.
type unsolvedReason struct {
	reason string
	edges  []graph.Edge
}

func (u *unsolvedReason) Error() string { return u.reason }

func (s *Synthesizer) solve(g *graph.Graph, minRows int, widened bool) (*Plan, error) {
	fp := g.Fingerprint()

	plan, err := s.generic(g, fp, minRows)
	if err == nil {
		return plan, nil
	}
	if us, ok := err.(*unsolvedReason); ok {
		return s.recipePlan(g, fp, us, widened)
	}
	return nil, err
}

// recipePlan is the explicit fallback branch: recipe hit or Unsolved.
func (s *Synthesizer) recipePlan(g *graph.Graph, fp string, us *unsolvedReason, widened bool) (*Plan, error) {
	r, ok := s.recipes.Lookup(fp)
	if !ok {
		slog.Debug("no fallback recipe", "fingerprint", fp, "reason", us.reason)
		return nil, &UnsolvedError{Fingerprint: fp, Reason: us.reason, Edges: us.edges}
	}

	rows := r.Rows
	if widened && len(r.Widened) > 0 {
		rows = r.Widened
	}
	slog.Debug("fallback recipe matched",
		"fingerprint", fp, "recipe_version", r.Version, "rows", len(rows), "widened", widened)

	plan := &Plan{SolverVersion: SolverVersion, Fingerprint: fp, Recipe: r.Version}
	byTable := map[string]int{}
	order := s.tableOrder(g, tableNamesOf(rows))
	for _, name := range order {
		byTable[name] = len(plan.Tables)
		plan.Tables = append(plan.Tables, TableRows{Table: name})
	}
	for _, row := range rows {
		i, ok := byTable[row.Table]
		if !ok {
			byTable[row.Table] = len(plan.Tables)
			i = byTable[row.Table]
			plan.Tables = append(plan.Tables, TableRows{Table: row.Table})
		}
		plan.Tables[i].Rows = append(plan.Tables[i].Rows, row)
	}
	return plan, nil
}

// generic runs the rule-based solver.
func (s *Synthesizer) generic(g *graph.Graph, fp string, minRows int) (*Plan, error) {
	if unsolved := g.EdgesOfKind(graph.KindUnsolved); len(unsolved) > 0 {
		return nil, &unsolvedReason{
			reason: fmt.Sprintf("%d unclassified predicates", len(unsolved)),
			edges:  unsolved,
		}
	}

	uf := newUnionFind()
	type pin struct {
		val  sqlq.Value
		edge graph.Edge
	}
	pins := map[int]pin{}

	// Pass 1: union equality edges, register every constrained column.
	// Registration order is edge order, which is extraction order, which
	// is deterministic. That ordering drives every later tie-break.
	for _, e := range g.Edges() {
		switch e.Kind {
		case graph.KindEquality:
			if e.Right != nil {
				uf.union(e.Left, *e.Right)
			} else {
				uf.add(e.Left)
			}
		case graph.KindRange:
			uf.add(e.Left)
		case graph.KindArithmeticOffset:
			uf.add(e.Left)
			uf.add(*e.Right)
		case graph.KindAggregateThreshold:
			for _, c := range e.GroupBy {
				uf.add(c)
			}
			if e.AggColumn != "*" && e.AggTable != "" {
				uf.add(graph.ColumnRef{Table: e.AggTable, Column: e.AggColumn})
			}
		}
	}

	// Pass 2: literal pins; two different pins on one family is UNSAT.
	for _, e := range g.EdgesOfKind(graph.KindEquality) {
		if e.Right != nil {
			continue
		}
		r := uf.root(e.Left)
		if prev, ok := pins[r]; ok {
			if !valueEqual(prev.val, e.Literal) {
				return nil, &UnsatError{Column: e.Left, First: prev.edge, Second: e}
			}
			continue
		}
		pins[r] = pin{val: e.Literal, edge: e}
	}

	// Pass 3: merge range bounds per family; pick interior anchors.
	type interval struct {
		low, high             sqlq.Value
		lowClosed, highClosed bool
		lowEdge, highEdge     graph.Edge
	}
	ranges := map[int]*interval{}
	for _, e := range g.EdgesOfKind(graph.KindRange) {
		r := uf.root(e.Left)
		iv, ok := ranges[r]
		if !ok {
			iv = &interval{}
			ranges[r] = iv
		}
		if e.Low != nil {
			switch {
			case iv.low == nil || mustLess(iv.low, e.Low):
				iv.low, iv.lowClosed, iv.lowEdge = e.Low, e.LowClosed, e
			case iv.lowClosed && !e.LowClosed && valueEqual(iv.low, e.Low):
				// Equal bounds: the open one is stricter and wins,
				// whichever conjunct came first.
				iv.lowClosed, iv.lowEdge = false, e
			}
		}
		if e.High != nil {
			switch {
			case iv.high == nil || mustLess(e.High, iv.high):
				iv.high, iv.highClosed, iv.highEdge = e.High, e.HighClosed, e
			case iv.highClosed && !e.HighClosed && valueEqual(iv.high, e.High):
				iv.highClosed, iv.highEdge = false, e
			}
		}
	}

	values := map[int]sqlq.Value{}
	sources := map[int]graph.Edge{}
	for r, p := range pins {
		values[r] = p.val
		sources[r] = p.edge
	}

	for r, iv := range ranges {
		if p, pinned := pins[r]; pinned {
			if !inInterval(p.val, iv.low, iv.lowClosed, iv.high, iv.highClosed) {
				other := iv.lowEdge
				if iv.low == nil {
					other = iv.highEdge
				}
				return nil, &UnsatError{Column: uf.cols[r], First: p.edge, Second: other}
			}
			continue
		}
		v, err := pickInInterval(iv.low, iv.lowClosed, iv.high, iv.highClosed)
		if err != nil {
			var empty *emptyInterval
			if errors.As(err, &empty) {
				return nil, &UnsatError{Column: uf.cols[r], First: iv.lowEdge, Second: iv.highEdge}
			}
			return nil, &unsolvedReason{reason: err.Error(), edges: []graph.Edge{iv.lowEdge, iv.highEdge}}
		}
		values[r] = v
		sources[r] = iv.lowEdge
		if iv.low == nil {
			sources[r] = iv.highEdge
		}
	}

	// Pass 4: propagate arithmetic offsets until a fixpoint. Each pass
	// resolves at least one edge or stops, so the loop is bounded.
	offsets := g.EdgesOfKind(graph.KindArithmeticOffset)
	for pass := 0; pass <= len(offsets); pass++ {
		progress := false
		for _, e := range offsets {
			lr, rr := uf.root(e.Left), uf.root(*e.Right)
			lv, lok := values[lr]
			rv, rok := values[rr]
			switch {
			case lok && rok:
				li, liOK := lv.(sqlq.Int)
				ri, riOK := rv.(sqlq.Int)
				if !liOK || !riOK {
					return nil, &unsolvedReason{reason: "arithmetic offset over non-integer anchors", edges: []graph.Edge{e}}
				}
				if int64(li) != int64(ri)+e.Offset {
					return nil, &UnsatError{Column: e.Left, First: sources[lr], Second: e}
				}
			case rok:
				ri, ok := rv.(sqlq.Int)
				if !ok {
					return nil, &unsolvedReason{reason: "arithmetic offset over non-integer anchors", edges: []graph.Edge{e}}
				}
				values[lr] = sqlq.Int(int64(ri) + e.Offset)
				sources[lr] = e
				progress = true
			case lok:
				li, ok := lv.(sqlq.Int)
				if !ok {
					return nil, &unsolvedReason{reason: "arithmetic offset over non-integer anchors", edges: []graph.Edge{e}}
				}
				values[rr] = sqlq.Int(int64(li) - e.Offset)
				sources[rr] = e
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	// Pass 5: default anchors for unconstrained families, in registration
	// order. Sequential values, never random.
	next := int64(1)
	for _, r := range uf.roots() {
		if _, ok := values[r]; ok {
			continue
		}
		values[r] = s.defaultAnchor(g, uf.cols[r], next)
		next++
	}

	// For offsets whose families were defaulted independently the offset
	// no longer holds. Re-solve to a fixpoint: anchors derived from pins,
	// ranges, and earlier propagation stay fixed, defaulted anchors are
	// adjusted, and a chain seeds from its right end so `c = a+2, a = b+1`
	// resolves in either conjunct order.
	resolved := map[int]bool{}
	for r := range sources {
		resolved[r] = true
	}
	for pass := 0; pass <= len(offsets); pass++ {
		progress := false
		for _, e := range offsets {
			lr, rr := uf.root(e.Left), uf.root(*e.Right)
			li, liOK := values[lr].(sqlq.Int)
			ri, riOK := values[rr].(sqlq.Int)
			if !liOK || !riOK {
				continue
			}
			switch {
			case resolved[lr] && resolved[rr]:
				if int64(li) != int64(ri)+e.Offset {
					return nil, &UnsatError{Column: e.Left, First: sources[lr], Second: e}
				}
			case resolved[rr]:
				values[lr] = sqlq.Int(int64(ri) + e.Offset)
				sources[lr], resolved[lr] = e, true
				progress = true
			case resolved[lr]:
				values[rr] = sqlq.Int(int64(li) - e.Offset)
				sources[rr], resolved[rr] = e, true
				progress = true
			default:
				values[lr] = sqlq.Int(int64(ri) + e.Offset)
				sources[lr], sources[rr] = e, e
				resolved[lr], resolved[rr] = true, true
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	// Pass 6: per-table row counts. Aggregate thresholds raise the count
	// of their target table to the minimal value crossing the bound.
	rowCounts := map[string]int{}
	forced := forcedAliases(g)
	skip := map[string]bool{}
	for _, a := range g.SkipEligible() {
		skip[a] = true
	}

	for _, t := range g.Tables() {
		if skip[t.Alias] && !forced[t.Alias] {
			rowCounts[t.Alias] = 0
			continue
		}
		rowCounts[t.Alias] = minRows
	}

	for _, e := range g.EdgesOfKind(graph.KindAggregateThreshold) {
		target := e.AggTable
		if target == "" && len(e.GroupBy) > 0 {
			target = e.GroupBy[0].Table
		}
		if target == "" {
			return nil, &unsolvedReason{reason: "aggregate threshold with no target table", edges: []graph.Edge{e}}
		}
		n, err := neededRows(e, uf, values)
		if err != nil {
			return nil, err
		}
		if n > rowCounts[target] {
			rowCounts[target] = n
		}
	}

	// Pass 7: materialize rows grouped by real table name, ordered
	// parent-before-child when a schema is available.
	rowsByName := map[string][]Row{}
	for _, t := range g.Tables() {
		count := rowCounts[t.Alias]
		if count == 0 {
			continue
		}
		vals := map[string]sqlq.Value{}
		for i, c := range uf.cols {
			if c.Table != t.Alias {
				continue
			}
			vals[c.Column] = values[uf.find(i)]
		}
		for i := 0; i < count; i++ {
			rowVals := make(map[string]sqlq.Value, len(vals))
			for k, v := range vals {
				rowVals[k] = v
			}
			rowsByName[t.Name] = append(rowsByName[t.Name], Row{Table: t.Name, Values: rowVals})
		}
	}

	names := make([]string, 0, len(rowsByName))
	for name := range rowsByName {
		names = append(names, name)
	}
	plan := &Plan{SolverVersion: SolverVersion, Fingerprint: fp}
	for _, name := range s.tableOrder(g, names) {
		rows, ok := rowsByName[name]
		if !ok {
			continue
		}
		plan.Tables = append(plan.Tables, TableRows{Table: name, Rows: rows})
	}
	return plan, nil
}

// defaultAnchor picks a deterministic anchor for an unconstrained family.
// With a schema present, text columns get string anchors; everything else
// gets sequential integers.
func (s *Synthesizer) defaultAnchor(g *graph.Graph, col graph.ColumnRef, seq int64) sqlq.Value {
	if s.schema != nil {
		if t, ok := g.TableByAlias(col.Table); ok {
			if st, ok := s.schema.Table(t.Name); ok {
				for _, c := range st.Columns {
					if c.Name == col.Column && isTextType(c.Type) {
						return sqlq.Str(fmt.Sprintf("w%d", seq))
					}
				}
			}
		}
	}
	return sqlq.Int(seq)
}

func isTextType(t string) bool {
	u := strings.ToUpper(t)
	return strings.Contains(u, "CHAR") || strings.Contains(u, "TEXT") || strings.Contains(u, "CLOB")
}

// tableOrder orders table names parent-before-child using the schema's
// topological order; names absent from the schema keep first-seen order
// at the end. Without a schema, graph appearance order is used.
func (s *Synthesizer) tableOrder(g *graph.Graph, names []string) []string {
	present := map[string]bool{}
	for _, n := range names {
		present[n] = true
	}

	var ordered []string
	emit := func(n string) {
		if present[n] {
			ordered = append(ordered, n)
			present[n] = false
		}
	}

	if s.schema != nil {
		if topo, err := s.schema.TopoOrder(); err == nil {
			for _, n := range topo {
				emit(n)
			}
		}
	}
	for _, t := range g.Tables() {
		emit(t.Name)
	}
	for _, n := range names {
		emit(n)
	}
	return ordered
}

// forcedAliases returns aliases referenced by any non-anti-pattern edge;
// a skip-eligible table that is also forced still gets rows.
func forcedAliases(g *graph.Graph) map[string]bool {
	forced := map[string]bool{}
	for _, e := range g.Edges() {
		if e.Kind == graph.KindAntiPattern {
			continue
		}
		if e.Left.Table != "" {
			forced[e.Left.Table] = true
		}
		if e.Right != nil {
			forced[e.Right.Table] = true
		}
		for _, c := range e.GroupBy {
			forced[c.Table] = true
		}
		if e.AggTable != "" {
			forced[e.AggTable] = true
		}
	}
	return forced
}

// neededRows computes the minimal duplicate-row count that crosses an
// aggregate threshold. COUNT(*) > 4 needs 5 rows sharing the grouping key.
func neededRows(e graph.Edge, uf *unionFind, values map[int]sqlq.Value) (int, error) {
	bound, ok := e.Bound.(sqlq.Int)
	if !ok {
		return 0, &unsolvedReason{reason: "non-integer aggregate bound", edges: []graph.Edge{e}}
	}
	b := int64(bound)

	switch e.Agg {
	case "count":
		switch e.Op {
		case ">":
			return clampRows(b + 1)
		case ">=":
			return clampRows(b)
		case "=":
			return clampRows(b)
		case "<":
			if b <= 1 {
				return 0, &unsolvedReason{reason: "count upper bound below one row", edges: []graph.Edge{e}}
			}
			return 1, nil
		case "<=":
			if b < 1 {
				return 0, &unsolvedReason{reason: "count upper bound below one row", edges: []graph.Edge{e}}
			}
			return 1, nil
		}

	case "sum":
		if e.AggColumn == "*" || e.AggTable == "" {
			return 0, &unsolvedReason{reason: "sum over unknown column", edges: []graph.Edge{e}}
		}
		anchor, ok := values[uf.root(graph.ColumnRef{Table: e.AggTable, Column: e.AggColumn})].(sqlq.Int)
		if !ok || int64(anchor) <= 0 {
			return 0, &unsolvedReason{reason: "sum anchor not a positive integer", edges: []graph.Edge{e}}
		}
		a := int64(anchor)
		switch e.Op {
		case ">":
			return clampRows(b/a + 1)
		case ">=":
			return clampRows((b + a - 1) / a)
		case "=":
			if b%a == 0 {
				return clampRows(b / a)
			}
		}
	}

	return 0, &unsolvedReason{
		reason: fmt.Sprintf("aggregate %s %s not covered by generic rules", e.Agg, e.Op),
		edges:  []graph.Edge{e},
	}
}

func clampRows(n int64) (int, error) {
	const maxWitnessRows = 10000
	if n < 1 {
		n = 1
	}
	if n > maxWitnessRows {
		return 0, &unsolvedReason{reason: fmt.Sprintf("threshold needs %d rows, above witness cap", n)}
	}
	return int(n), nil
}

func tableNamesOf(rows []Row) []string {
	var names []string
	seen := map[string]bool{}
	for _, r := range rows {
		if !seen[r.Table] {
			seen[r.Table] = true
			names = append(names, r.Table)
		}
	}
	return names
}
