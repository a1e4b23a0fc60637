// Package rewrite is the fixed catalogue of semantics-preserving AST
// rewrites the tree-search strategy draws its actions from.
//
// Every rule works on its own parse of the input text, so the shared
// baseline AST is never mutated. A rule that produces text identical to
// its input reports "not applied" and the search discards the no-op.
package rewrite

import (
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/tmakaro/requal/internal/sqlq"
)

// Rule is one catalogue entry. Prior is the deterministic selection prior
// used by the tree search; priors are static weights, not learned.
type Rule interface {
	Name() string
	Prior() float64
	// apply mutates the rule's private parse of the statement and
	// reports whether anything changed.
	apply(sel *ast.SelectStmt) bool
}

// Catalogue returns the full rule list in fixed order. The order and the
// priors never change at runtime; the search depends on that for
// deterministic expansion.
func Catalogue() []Rule {
	return []Rule{
		betweenToRange{},
		rangeToBetween{},
		inListToOrChain{},
		orChainToInList{},
		commuteInnerJoin{},
		commuteEquality{},
		doubleNegate{},
		conjoinTrue{},
	}
}

// Apply runs one rule against SQL text: parse, transform, restore.
// Returns the rewritten text and whether the rule actually applied.
// A restore that reproduces the input text counts as not applied.
func Apply(r Rule, text string) (string, bool) {
	p := parser.New()
	stmt, err := p.ParseOneStmt(text, "", "")
	if err != nil {
		return "", false
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return "", false
	}

	// Normalize the original through the same restore path so the no-op
	// comparison is text-format-insensitive.
	original, err := sqlq.Restore(sel)
	if err != nil {
		return "", false
	}

	if !r.apply(sel) {
		return "", false
	}
	rewritten, err := sqlq.Restore(sel)
	if err != nil || rewritten == original {
		return "", false
	}
	return rewritten, true
}

// --- rules ---

// betweenToRange: x BETWEEN a AND b  →  x >= a AND x <= b.
type betweenToRange struct{}

func (betweenToRange) Name() string   { return "between-to-range" }
func (betweenToRange) Prior() float64 { return 0.20 }
func (betweenToRange) apply(sel *ast.SelectStmt) bool {
	applied := false
	rewriteWhere(sel, func(expr ast.ExprNode) ast.ExprNode {
		bt, ok := expr.(*ast.BetweenExpr)
		if !ok || bt.Not {
			return expr
		}
		applied = true
		return &ast.BinaryOperationExpr{
			Op: opcode.LogicAnd,
			L:  &ast.BinaryOperationExpr{Op: opcode.GE, L: bt.Expr, R: bt.Left},
			R:  &ast.BinaryOperationExpr{Op: opcode.LE, L: bt.Expr, R: bt.Right},
		}
	})
	return applied
}

// rangeToBetween: x >= a AND x <= b  →  x BETWEEN a AND b, when both
// sides bound the same column.
type rangeToBetween struct{}

func (rangeToBetween) Name() string   { return "range-to-between" }
func (rangeToBetween) Prior() float64 { return 0.15 }
func (rangeToBetween) apply(sel *ast.SelectStmt) bool {
	applied := false
	rewriteWhere(sel, func(expr ast.ExprNode) ast.ExprNode {
		and, ok := expr.(*ast.BinaryOperationExpr)
		if !ok || and.Op != opcode.LogicAnd {
			return expr
		}
		lo, lok := and.L.(*ast.BinaryOperationExpr)
		hi, hok := and.R.(*ast.BinaryOperationExpr)
		if !lok || !hok || lo.Op != opcode.GE || hi.Op != opcode.LE {
			return expr
		}
		lcol, lok := lo.L.(*ast.ColumnNameExpr)
		hcol, hok := hi.L.(*ast.ColumnNameExpr)
		if !lok || !hok || !sameColumn(lcol, hcol) {
			return expr
		}
		applied = true
		return &ast.BetweenExpr{Expr: lo.L, Left: lo.R, Right: hi.R}
	})
	return applied
}

// inListToOrChain: x IN (a, b)  →  x = a OR x = b. Bounded at 8 elements
// so the chain stays readable in plans.
type inListToOrChain struct{}

func (inListToOrChain) Name() string   { return "in-to-or" }
func (inListToOrChain) Prior() float64 { return 0.15 }
func (inListToOrChain) apply(sel *ast.SelectStmt) bool {
	applied := false
	rewriteWhere(sel, func(expr ast.ExprNode) ast.ExprNode {
		in, ok := expr.(*ast.PatternInExpr)
		if !ok || in.Not || in.Sel != nil || len(in.List) == 0 || len(in.List) > 8 {
			return expr
		}
		applied = true
		var chain ast.ExprNode
		for _, item := range in.List {
			eq := &ast.BinaryOperationExpr{Op: opcode.EQ, L: in.Expr, R: item}
			if chain == nil {
				chain = eq
				continue
			}
			chain = &ast.BinaryOperationExpr{Op: opcode.LogicOr, L: chain, R: eq}
		}
		return chain
	})
	return applied
}

// orChainToInList: x = a OR x = b  →  x IN (a, b).
type orChainToInList struct{}

func (orChainToInList) Name() string   { return "or-to-in" }
func (orChainToInList) Prior() float64 { return 0.15 }
func (orChainToInList) apply(sel *ast.SelectStmt) bool {
	applied := false
	rewriteWhere(sel, func(expr ast.ExprNode) ast.ExprNode {
		or, ok := expr.(*ast.BinaryOperationExpr)
		if !ok || or.Op != opcode.LogicOr {
			return expr
		}
		le, lok := or.L.(*ast.BinaryOperationExpr)
		re, rok := or.R.(*ast.BinaryOperationExpr)
		if !lok || !rok || le.Op != opcode.EQ || re.Op != opcode.EQ {
			return expr
		}
		lcol, lok := le.L.(*ast.ColumnNameExpr)
		rcol, rok := re.L.(*ast.ColumnNameExpr)
		if !lok || !rok || !sameColumn(lcol, rcol) {
			return expr
		}
		applied = true
		return &ast.PatternInExpr{Expr: le.L, List: []ast.ExprNode{le.R, re.R}}
	})
	return applied
}

// commuteInnerJoin swaps the operands of the top inner join. Pure plan
// hint: result multiset is unchanged.
type commuteInnerJoin struct{}

func (commuteInnerJoin) Name() string   { return "commute-join" }
func (commuteInnerJoin) Prior() float64 { return 0.10 }
func (commuteInnerJoin) apply(sel *ast.SelectStmt) bool {
	if sel.From == nil || sel.From.TableRefs == nil {
		return false
	}
	j := sel.From.TableRefs
	if j.Tp != ast.CrossJoin || j.On == nil || j.Left == nil || j.Right == nil {
		return false
	}
	if _, ok := j.Left.(*ast.TableSource); !ok {
		return false
	}
	if _, ok := j.Right.(*ast.TableSource); !ok {
		return false
	}
	j.Left, j.Right = j.Right, j.Left
	return true
}

// commuteEquality flips x = y comparisons in WHERE.
type commuteEquality struct{}

func (commuteEquality) Name() string   { return "commute-equality" }
func (commuteEquality) Prior() float64 { return 0.10 }
func (commuteEquality) apply(sel *ast.SelectStmt) bool {
	applied := false
	rewriteWhere(sel, func(expr ast.ExprNode) ast.ExprNode {
		eq, ok := expr.(*ast.BinaryOperationExpr)
		if !ok || eq.Op != opcode.EQ {
			return expr
		}
		applied = true
		return &ast.BinaryOperationExpr{Op: opcode.EQ, L: eq.R, R: eq.L}
	})
	return applied
}

// doubleNegate wraps the WHERE predicate in NOT NOT.
type doubleNegate struct{}

func (doubleNegate) Name() string   { return "double-negate" }
func (doubleNegate) Prior() float64 { return 0.05 }
func (doubleNegate) apply(sel *ast.SelectStmt) bool {
	if sel.Where == nil {
		return false
	}
	sel.Where = &ast.UnaryOperationExpr{
		Op: opcode.Not,
		V:  &ast.UnaryOperationExpr{Op: opcode.Not, V: sel.Where},
	}
	return true
}

// conjoinTrue appends a tautology: WHERE p  →  WHERE p AND 1.
type conjoinTrue struct{}

func (conjoinTrue) Name() string   { return "conjoin-true" }
func (conjoinTrue) Prior() float64 { return 0.05 }
func (conjoinTrue) apply(sel *ast.SelectStmt) bool {
	if sel.Where == nil {
		return false
	}
	sel.Where = &ast.BinaryOperationExpr{
		Op: opcode.LogicAnd,
		L:  sel.Where,
		R:  ast.NewValueExpr(1, "", ""),
	}
	return true
}

// --- helpers ---

// rewriteWhere applies f bottom-up over the WHERE tree, descending only
// through AND/OR/parentheses so rewrites stay within boolean structure.
func rewriteWhere(sel *ast.SelectStmt, f func(ast.ExprNode) ast.ExprNode) {
	if sel.Where == nil {
		return
	}
	var walk func(expr ast.ExprNode) ast.ExprNode
	walk = func(expr ast.ExprNode) ast.ExprNode {
		switch e := expr.(type) {
		case *ast.BinaryOperationExpr:
			if e.Op == opcode.LogicAnd || e.Op == opcode.LogicOr {
				e.L = walk(e.L)
				e.R = walk(e.R)
			}
		case *ast.ParenthesesExpr:
			e.Expr = walk(e.Expr)
		}
		return f(expr)
	}
	sel.Where = walk(sel.Where)
}

func sameColumn(a, b *ast.ColumnNameExpr) bool {
	return a.Name.Table.L == b.Name.Table.L && a.Name.Name.L == b.Name.Name.L
}
