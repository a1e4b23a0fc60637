package sqlq

import (
	"fmt"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// Shape classifies the top-level statement form of a query.
type Shape int

const (
	// ShapeSelect is a plain SELECT with no aggregation.
	ShapeSelect Shape = iota + 1
	// ShapeAggregate is a SELECT with GROUP BY, HAVING, or aggregate
	// functions in its projection.
	ShapeAggregate
	// ShapeSetOp is a UNION / EXCEPT / INTERSECT statement.
	ShapeSetOp
)

func (s Shape) String() string {
	switch s {
	case ShapeSelect:
		return "select"
	case ShapeAggregate:
		return "aggregate"
	case ShapeSetOp:
		return "set-operation"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Query is an immutable parsed query: raw text, dialect tag, and AST.
// Construct via Parse; never mutate the AST after construction. Rewrite
// rules that need a mutable AST must re-parse the text and work on their
// own copy.
type Query struct {
	Text    string
	Dialect string

	stmt  ast.StmtNode
	shape Shape
	ctes  []string
	order bool
}

// Parse parses one statement and classifies its shape.
// The dialect tag is carried for downstream scratch-database selection;
// parsing itself always uses the common SQL grammar.
func Parse(text, dialect string) (*Query, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("parse query: empty statement")
	}
	p := parser.New()
	stmt, err := p.ParseOneStmt(text, "", "")
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}

	q := &Query{Text: text, Dialect: dialect, stmt: stmt}

	switch s := stmt.(type) {
	case *ast.SelectStmt:
		q.shape = ShapeSelect
		if s.GroupBy != nil || s.Having != nil || hasAggregate(s.Fields) {
			q.shape = ShapeAggregate
		}
		q.order = s.OrderBy != nil && len(s.OrderBy.Items) > 0
		q.ctes = cteNames(s.With)
	case *ast.SetOprStmt:
		q.shape = ShapeSetOp
		q.order = s.OrderBy != nil && len(s.OrderBy.Items) > 0
		q.ctes = cteNames(s.With)
	default:
		return nil, fmt.Errorf("parse query: unsupported statement type %T", stmt)
	}

	return q, nil
}

// Stmt returns the parsed statement. Treat as read-only.
func (q *Query) Stmt() ast.StmtNode { return q.stmt }

// Shape returns the top-level statement shape.
func (q *Query) Shape() Shape { return q.shape }

// CTENames returns the names of the query's common table expressions, in
// declaration order.
func (q *Query) CTENames() []string { return q.ctes }

// HasExplicitOrder reports whether the top-level statement carries an
// ORDER BY clause. When true, row order is semantically significant and
// participates in result checksums.
func (q *Query) HasExplicitOrder() bool { return q.order }

// Restore renders an AST node back to SQL text.
func Restore(node ast.Node) (string, error) {
	var b strings.Builder
	ctx := format.NewRestoreCtx(format.DefaultRestoreFlags, &b)
	if err := node.Restore(ctx); err != nil {
		return "", fmt.Errorf("restore: %w", err)
	}
	return b.String(), nil
}

func cteNames(with *ast.WithClause) []string {
	if with == nil {
		return nil
	}
	names := make([]string, 0, len(with.CTEs))
	for _, cte := range with.CTEs {
		names = append(names, cte.Name.L)
	}
	return names
}

// aggregateDetector walks an expression tree looking for aggregate calls.
type aggregateDetector struct {
	found bool
}

func (d *aggregateDetector) Enter(n ast.Node) (ast.Node, bool) {
	if _, ok := n.(*ast.AggregateFuncExpr); ok {
		d.found = true
		return n, true
	}
	// Aggregates inside a subquery belong to that subquery's shape.
	if _, ok := n.(*ast.SubqueryExpr); ok {
		return n, true
	}
	return n, false
}

func (d *aggregateDetector) Leave(n ast.Node) (ast.Node, bool) { return n, true }

func hasAggregate(fields *ast.FieldList) bool {
	if fields == nil {
		return false
	}
	d := &aggregateDetector{}
	for _, f := range fields.Fields {
		if f.Expr != nil {
			f.Expr.Accept(d)
			if d.found {
				return true
			}
		}
	}
	return false
}
