// Package extract walks a parsed query and derives its constraint graph.
//
// Classification order follows the solver's needs: equality, range,
// arithmetic-offset, aggregate-threshold, anti-pattern. Predicates that fit
// none of these are recorded as unsolved edges rather than dropped; the
// extractor degrades, it does not fail.
package extract

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	"github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/tmakaro/requal/internal/graph"
	"github.com/tmakaro/requal/internal/sqlq"
)

// Extract builds the constraint graph for a parsed query.
//
// Set-operation statements are extracted from their first branch; tables of
// EXCEPT branches are marked skip-eligible. Unclassifiable predicates become
// unsolved edges. The only hard errors are structural (no FROM tree at all).
func Extract(q *sqlq.Query) (*graph.Graph, error) {
	ex := &extractor{}

	switch stmt := q.Stmt().(type) {
	case *ast.SelectStmt:
		if err := ex.selectStmt(stmt); err != nil {
			return nil, err
		}
	case *ast.SetOprStmt:
		if err := ex.setOprStmt(stmt); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("extract: unsupported statement type %T", stmt)
	}

	g := ex.b.Build()
	slog.Debug("constraint graph extracted",
		"tables", len(g.Tables()),
		"edges", len(g.Edges()),
		"unsolved", len(g.EdgesOfKind(graph.KindUnsolved)),
	)
	return g, nil
}

type extractor struct {
	b graph.Builder

	// aliases maps alias → present, for unqualified column resolution.
	aliases []string
}

func (ex *extractor) selectStmt(sel *ast.SelectStmt) error {
	if sel.From == nil || sel.From.TableRefs == nil {
		return fmt.Errorf("extract: statement has no FROM clause")
	}

	ex.fromTree(sel.From.TableRefs)

	if sel.Where != nil {
		ex.predicate(sel.Where)
	}
	if sel.Having != nil {
		ex.having(sel.Having.Expr, sel.GroupBy)
	}
	return nil
}

// setOprStmt extracts the first branch of a set operation and marks the
// tables of EXCEPT branches skip-eligible. A witness satisfying the first
// branch is a witness for the whole statement as long as EXCEPT branches
// stay empty.
func (ex *extractor) setOprStmt(setop *ast.SetOprStmt) error {
	if setop.SelectList == nil || len(setop.SelectList.Selects) == 0 {
		return fmt.Errorf("extract: empty set operation")
	}

	first, ok := setop.SelectList.Selects[0].(*ast.SelectStmt)
	if !ok {
		return fmt.Errorf("extract: unsupported set-operation branch %T", setop.SelectList.Selects[0])
	}
	if err := ex.selectStmt(first); err != nil {
		return err
	}

	for _, node := range setop.SelectList.Selects[1:] {
		sel, ok := node.(*ast.SelectStmt)
		if !ok {
			continue
		}
		except := sel.AfterSetOperator != nil &&
			(*sel.AfterSetOperator == ast.Except || *sel.AfterSetOperator == ast.ExceptAll)
		if !except {
			continue
		}
		for _, t := range branchTables(sel) {
			ex.b.AddTable(t.Name, t.Alias)
			ex.b.AddEdge(graph.Edge{
				Kind: graph.KindAntiPattern,
				Left: graph.ColumnRef{Table: t.Alias},
			})
		}
	}
	return nil
}

// fromTree walks a join tree, registering tables and classifying ON
// conditions.
func (ex *extractor) fromTree(node ast.ResultSetNode) {
	switch n := node.(type) {
	case *ast.Join:
		if n.Left != nil {
			ex.fromTree(n.Left)
		}
		if n.Right != nil {
			ex.fromTree(n.Right)
		}
		if n.On != nil {
			ex.predicate(n.On.Expr)
		}
	case *ast.TableSource:
		switch src := n.Source.(type) {
		case *ast.TableName:
			alias := n.AsName.L
			if alias == "" {
				alias = src.Name.L
			}
			ex.b.AddTable(src.Name.L, alias)
			ex.aliases = append(ex.aliases, alias)
		default:
			// Derived table: its inner predicates constrain the derived
			// output, which the generic rules do not model.
			ex.unsolvedNode(n)
		}
	case *ast.TableName:
		ex.b.AddTable(n.Name.L, n.Name.L)
		ex.aliases = append(ex.aliases, n.Name.L)
	default:
		ex.unsolvedNode(node)
	}
}

// predicate classifies one boolean expression, splitting conjunctions.
func (ex *extractor) predicate(expr ast.ExprNode) {
	expr = unwrapParens(expr)

	switch e := expr.(type) {
	case *ast.BinaryOperationExpr:
		if e.Op == opcode.LogicAnd {
			ex.predicate(e.L)
			ex.predicate(e.R)
			return
		}
		ex.comparison(e)
	case *ast.BetweenExpr:
		ex.between(e)
	case *ast.PatternInExpr:
		ex.inExpr(e)
	case *ast.ExistsSubqueryExpr:
		ex.exists(e)
	default:
		ex.unsolvedNode(expr)
	}
}

// comparison classifies a single binary comparison in the documented
// order: equality first, then range, then arithmetic offset.
func (ex *extractor) comparison(e *ast.BinaryOperationExpr) {
	l := unwrapParens(e.L)
	r := unwrapParens(e.R)

	// Correlated or scalar subquery on either side: an aggregate bound if
	// the subquery aggregates, otherwise unsolved.
	if sub, ok := r.(*ast.SubqueryExpr); ok {
		ex.scalarSubquery(e, l, sub, e.Op, false)
		return
	}
	if sub, ok := l.(*ast.SubqueryExpr); ok {
		ex.scalarSubquery(e, r, sub, e.Op, true)
		return
	}

	lcol, lIsCol := ex.columnRef(l)
	rcol, rIsCol := ex.columnRef(r)
	lval, lIsLit := literalValue(l)
	rval, rIsLit := literalValue(r)

	switch e.Op {
	case opcode.EQ:
		switch {
		case lIsCol && rIsCol:
			rc := rcol
			ex.b.AddEdge(graph.Edge{Kind: graph.KindEquality, Left: lcol, Right: &rc})
		case lIsCol && rIsLit:
			ex.b.AddEdge(graph.Edge{Kind: graph.KindEquality, Left: lcol, Literal: rval})
		case rIsCol && lIsLit:
			ex.b.AddEdge(graph.Edge{Kind: graph.KindEquality, Left: rcol, Literal: lval})
		case lIsCol && ex.offset(lcol, r):
			// handled in offset
		case rIsCol && ex.offset(rcol, l):
			// handled in offset
		default:
			ex.unsolvedNode(e)
		}

	case opcode.GT, opcode.GE, opcode.LT, opcode.LE:
		op := e.Op
		col, val := lcol, rval
		colOK, valOK := lIsCol, rIsLit
		if !colOK && rIsCol && lIsLit {
			// literal <op> column: flip.
			col, val = rcol, lval
			colOK, valOK = true, true
			op = flipOp(op)
		}
		if !colOK || !valOK {
			ex.unsolvedNode(e)
			return
		}
		edge := graph.Edge{Kind: graph.KindRange, Left: col}
		switch op {
		case opcode.GT:
			edge.Low = val
		case opcode.GE:
			edge.Low, edge.LowClosed = val, true
		case opcode.LT:
			edge.High = val
		case opcode.LE:
			edge.High, edge.HighClosed = val, true
		}
		ex.b.AddEdge(edge)

	default:
		ex.unsolvedNode(e)
	}
}

// offset recognizes col = otherCol ± N and records an arithmetic-offset
// edge. Returns false when the expression is not that shape.
func (ex *extractor) offset(left graph.ColumnRef, expr ast.ExprNode) bool {
	bin, ok := unwrapParens(expr).(*ast.BinaryOperationExpr)
	if !ok || (bin.Op != opcode.Plus && bin.Op != opcode.Minus) {
		return false
	}
	rcol, isCol := ex.columnRef(bin.L)
	val, isLit := literalValue(bin.R)
	if !isCol || !isLit {
		return false
	}
	n, ok := val.(sqlq.Int)
	if !ok {
		return false
	}
	offset := int64(n)
	if bin.Op == opcode.Minus {
		offset = -offset
	}
	rc := rcol
	ex.b.AddEdge(graph.Edge{
		Kind:   graph.KindArithmeticOffset,
		Left:   left,
		Right:  &rc,
		Offset: offset,
	})
	return true
}

// between records a closed range on both sides; NOT BETWEEN is unsolved.
func (ex *extractor) between(e *ast.BetweenExpr) {
	if e.Not {
		ex.unsolvedNode(e)
		return
	}
	col, isCol := ex.columnRef(e.Expr)
	low, lowLit := literalValue(e.Left)
	high, highLit := literalValue(e.Right)
	if !isCol || !lowLit || !highLit {
		ex.unsolvedNode(e)
		return
	}
	ex.b.AddEdge(graph.Edge{
		Kind: graph.KindRange,
		Left: col,
		Low:  low, LowClosed: true,
		High: high, HighClosed: true,
	})
}

// inExpr handles IN. A literal list pins the column to its first element
// (sufficient for a satisfying witness). NOT IN over a subquery marks the
// subquery's tables skip-eligible.
func (ex *extractor) inExpr(e *ast.PatternInExpr) {
	if e.Sel != nil {
		sub, ok := e.Sel.(*ast.SubqueryExpr)
		if !ok {
			ex.unsolvedNode(e)
			return
		}
		if e.Not {
			ex.markSubqueryAnti(sub)
			return
		}
		// Positive IN-subquery: extract the subquery's constraints into the
		// same graph so its tables get rows that make the membership hold.
		ex.subqueryConstraints(sub)
		if col, ok := ex.columnRef(e.Expr); ok {
			if scol, ok := subqueryOutputColumn(sub); ok {
				sc := scol
				ex.b.AddEdge(graph.Edge{Kind: graph.KindEquality, Left: col, Right: &sc})
			}
		}
		return
	}

	if e.Not || len(e.List) == 0 {
		ex.unsolvedNode(e)
		return
	}
	col, isCol := ex.columnRef(e.Expr)
	val, isLit := literalValue(e.List[0])
	if !isCol || !isLit {
		ex.unsolvedNode(e)
		return
	}
	ex.b.AddEdge(graph.Edge{Kind: graph.KindEquality, Left: col, Literal: val})
}

// exists recurses into EXISTS subqueries; NOT EXISTS marks the subquery's
// tables skip-eligible instead.
func (ex *extractor) exists(e *ast.ExistsSubqueryExpr) {
	sub, ok := e.Sel.(*ast.SubqueryExpr)
	if !ok {
		ex.unsolvedNode(e)
		return
	}
	if e.Not {
		ex.markSubqueryAnti(sub)
		return
	}
	ex.subqueryConstraints(sub)
}

// scalarSubquery classifies comparisons against a scalar subquery. When the
// subquery is a single-table aggregate, this is an aggregate-threshold edge;
// anything else is unsolved.
func (ex *extractor) scalarSubquery(orig ast.ExprNode, other ast.ExprNode, sub *ast.SubqueryExpr, op opcode.Op, flipped bool) {
	sel, ok := sub.Query.(*ast.SelectStmt)
	if !ok {
		ex.unsolvedNode(orig)
		return
	}
	agg := firstAggregate(sel)
	bound, isLit := literalValue(other)
	if agg == nil || !isLit {
		ex.unsolvedNode(orig)
		return
	}
	if flipped {
		op = flipOp(op)
	}
	opText, ok := opText(op)
	if !ok {
		ex.unsolvedNode(orig)
		return
	}

	// Register the subquery's tables and constraints; the grouping key is
	// the correlation column when one exists.
	ex.subqueryConstraints(sub)

	edge := graph.Edge{
		Kind:      graph.KindAggregateThreshold,
		Agg:       strings.ToLower(agg.F),
		AggColumn: aggregateColumn(agg),
		Op:        opText,
		Bound:     bound,
	}
	if inner := branchTables(sel); len(inner) > 0 {
		edge.AggTable = inner[0].Alias
	}
	if key, ok := correlationColumn(sel); ok {
		edge.GroupBy = []graph.ColumnRef{key}
		edge.Left = key
	}
	ex.b.AddEdge(edge)
}

// having classifies HAVING predicates as aggregate-threshold edges over the
// statement's grouping keys.
func (ex *extractor) having(expr ast.ExprNode, groupBy *ast.GroupByClause) {
	expr = unwrapParens(expr)

	if bin, ok := expr.(*ast.BinaryOperationExpr); ok && bin.Op == opcode.LogicAnd {
		ex.having(bin.L, groupBy)
		ex.having(bin.R, groupBy)
		return
	}

	bin, ok := expr.(*ast.BinaryOperationExpr)
	if !ok {
		ex.unsolvedNode(expr)
		return
	}

	l := unwrapParens(bin.L)
	r := unwrapParens(bin.R)
	agg, aggOK := l.(*ast.AggregateFuncExpr)
	bound, litOK := literalValue(r)
	op := bin.Op
	if !aggOK {
		// literal <op> AGG(...): flip.
		if agg2, ok := r.(*ast.AggregateFuncExpr); ok {
			if bound2, ok := literalValue(l); ok {
				agg, aggOK = agg2, true
				bound, litOK = bound2, true
				op = flipOp(op)
			}
		}
	}
	opStr, opOK := opText(op)
	if !aggOK || !litOK || !opOK {
		ex.unsolvedNode(expr)
		return
	}

	edge := graph.Edge{
		Kind:      graph.KindAggregateThreshold,
		Agg:       strings.ToLower(agg.F),
		AggColumn: aggregateColumn(agg),
		Op:        opStr,
		Bound:     bound,
	}
	if groupBy != nil {
		for _, item := range groupBy.Items {
			if col, ok := ex.columnRef(item.Expr); ok {
				edge.GroupBy = append(edge.GroupBy, col)
			}
		}
	}
	if len(edge.GroupBy) > 0 {
		edge.Left = edge.GroupBy[0]
		edge.AggTable = edge.GroupBy[0].Table
	} else if len(ex.aliases) == 1 {
		edge.AggTable = ex.aliases[0]
	}
	ex.b.AddEdge(edge)
}

// subqueryConstraints extracts a positive subquery's FROM and WHERE into
// the enclosing graph. Correlated equality predicates become ordinary
// equality edges, which is exactly what makes the witness rows join up.
func (ex *extractor) subqueryConstraints(sub *ast.SubqueryExpr) {
	sel, ok := sub.Query.(*ast.SelectStmt)
	if !ok {
		ex.unsolvedNode(sub)
		return
	}
	if sel.From != nil && sel.From.TableRefs != nil {
		ex.fromTree(sel.From.TableRefs)
	}
	if sel.Where != nil {
		ex.predicate(sel.Where)
	}
}

// markSubqueryAnti registers the subquery's tables and marks each one
// skip-eligible. Its predicates are deliberately not extracted: the
// anti-join is satisfied precisely by leaving those tables empty.
func (ex *extractor) markSubqueryAnti(sub *ast.SubqueryExpr) {
	sel, ok := sub.Query.(*ast.SelectStmt)
	if !ok {
		ex.unsolvedNode(sub)
		return
	}
	for _, t := range branchTables(sel) {
		ex.b.AddTable(t.Name, t.Alias)
		ex.b.AddEdge(graph.Edge{
			Kind: graph.KindAntiPattern,
			Left: graph.ColumnRef{Table: t.Alias},
		})
	}
}

// columnRef resolves an expression to a column reference. Unqualified
// columns resolve to the sole registered table; with several tables in
// scope an unqualified name is ambiguous and resolution fails.
func (ex *extractor) columnRef(expr ast.ExprNode) (graph.ColumnRef, bool) {
	col, ok := unwrapParens(expr).(*ast.ColumnNameExpr)
	if !ok {
		return graph.ColumnRef{}, false
	}
	tbl := col.Name.Table.L
	if tbl == "" {
		if len(ex.aliases) != 1 {
			return graph.ColumnRef{}, false
		}
		tbl = ex.aliases[0]
	}
	return graph.ColumnRef{Table: tbl, Column: col.Name.Name.L}, true
}

// unsolvedNode records a predicate the classifier could not place.
func (ex *extractor) unsolvedNode(node ast.Node) {
	raw, err := sqlq.Restore(node)
	if err != nil {
		raw = fmt.Sprintf("<unrestorable %T>", node)
	}
	slog.Debug("unclassified predicate recorded", "predicate", raw)
	ex.b.AddEdge(graph.Edge{Kind: graph.KindUnsolved, Raw: raw})
}

// --- helpers ---

func unwrapParens(expr ast.ExprNode) ast.ExprNode {
	for {
		p, ok := expr.(*ast.ParenthesesExpr)
		if !ok {
			return expr
		}
		expr = p.Expr
	}
}

// literalValue converts a parser literal into a sqlq.Value.
func literalValue(expr ast.ExprNode) (sqlq.Value, bool) {
	v, ok := unwrapParens(expr).(*test_driver.ValueExpr)
	if !ok {
		return nil, false
	}
	switch val := v.GetValue().(type) {
	case int64:
		return sqlq.Int(val), true
	case uint64:
		return sqlq.Int(int64(val)), true
	case string:
		return sqlq.Str(val), true
	case float64:
		return sqlq.Float(val), true
	case *test_driver.MyDecimal:
		f, err := strconv.ParseFloat(val.String(), 64)
		if err != nil {
			return nil, false
		}
		return sqlq.Float(f), true
	default:
		return nil, false
	}
}

func flipOp(op opcode.Op) opcode.Op {
	switch op {
	case opcode.GT:
		return opcode.LT
	case opcode.GE:
		return opcode.LE
	case opcode.LT:
		return opcode.GT
	case opcode.LE:
		return opcode.GE
	default:
		return op
	}
}

func opText(op opcode.Op) (string, bool) {
	switch op {
	case opcode.EQ:
		return "=", true
	case opcode.NE:
		return "<>", true
	case opcode.GT:
		return ">", true
	case opcode.GE:
		return ">=", true
	case opcode.LT:
		return "<", true
	case opcode.LE:
		return "<=", true
	default:
		return "", false
	}
}

// branchTables lists the tables of a select without classifying anything.
func branchTables(sel *ast.SelectStmt) []graph.Table {
	var out []graph.Table
	if sel.From == nil || sel.From.TableRefs == nil {
		return out
	}
	var walk func(node ast.ResultSetNode)
	walk = func(node ast.ResultSetNode) {
		switch n := node.(type) {
		case *ast.Join:
			if n.Left != nil {
				walk(n.Left)
			}
			if n.Right != nil {
				walk(n.Right)
			}
		case *ast.TableSource:
			if tn, ok := n.Source.(*ast.TableName); ok {
				alias := n.AsName.L
				if alias == "" {
					alias = tn.Name.L
				}
				out = append(out, graph.Table{Name: tn.Name.L, Alias: alias})
			}
		case *ast.TableName:
			out = append(out, graph.Table{Name: n.Name.L, Alias: n.Name.L})
		}
	}
	walk(sel.From.TableRefs)
	return out
}

// firstAggregate returns the first aggregate call in a select's projection.
func firstAggregate(sel *ast.SelectStmt) *ast.AggregateFuncExpr {
	if sel.Fields == nil {
		return nil
	}
	for _, f := range sel.Fields.Fields {
		if agg, ok := unwrapParens(f.Expr).(*ast.AggregateFuncExpr); ok {
			return agg
		}
	}
	return nil
}

func aggregateColumn(agg *ast.AggregateFuncExpr) string {
	if len(agg.Args) == 1 {
		if col, ok := agg.Args[0].(*ast.ColumnNameExpr); ok {
			return col.Name.Name.L
		}
	}
	return "*"
}

// correlationColumn finds the outer column of a correlated equality in a
// subquery's WHERE, used as the grouping key for aggregate thresholds.
func correlationColumn(sel *ast.SelectStmt) (graph.ColumnRef, bool) {
	if sel.Where == nil {
		return graph.ColumnRef{}, false
	}
	inner := map[string]bool{}
	for _, t := range branchTables(sel) {
		inner[t.Alias] = true
	}
	var found graph.ColumnRef
	ok := false
	var walk func(expr ast.ExprNode)
	walk = func(expr ast.ExprNode) {
		if ok {
			return
		}
		bin, isBin := unwrapParens(expr).(*ast.BinaryOperationExpr)
		if !isBin {
			return
		}
		if bin.Op == opcode.LogicAnd {
			walk(bin.L)
			walk(bin.R)
			return
		}
		if bin.Op != opcode.EQ {
			return
		}
		for _, side := range []ast.ExprNode{bin.L, bin.R} {
			if col, isCol := unwrapParens(side).(*ast.ColumnNameExpr); isCol {
				tbl := col.Name.Table.L
				if tbl != "" && !inner[tbl] {
					found = graph.ColumnRef{Table: tbl, Column: col.Name.Name.L}
					ok = true
					return
				}
			}
		}
	}
	walk(sel.Where)
	return found, ok
}

// subqueryOutputColumn returns the single projected column of a subquery,
// when it is a plain column.
func subqueryOutputColumn(sub *ast.SubqueryExpr) (graph.ColumnRef, bool) {
	sel, ok := sub.Query.(*ast.SelectStmt)
	if !ok || sel.Fields == nil || len(sel.Fields.Fields) != 1 {
		return graph.ColumnRef{}, false
	}
	col, ok := unwrapParens(sel.Fields.Fields[0].Expr).(*ast.ColumnNameExpr)
	if !ok {
		return graph.ColumnRef{}, false
	}
	tbl := col.Name.Table.L
	if tbl == "" {
		tables := branchTables(sel)
		if len(tables) != 1 {
			return graph.ColumnRef{}, false
		}
		tbl = tables[0].Alias
	}
	return graph.ColumnRef{Table: tbl, Column: col.Name.Name.L}, true
}
