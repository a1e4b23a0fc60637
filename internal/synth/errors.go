package synth

import (
	"errors"
	"fmt"

	"github.com/tmakaro/requal/internal/graph"
)

// UnsatError reports a provably contradictory constraint graph: the two
// edges named impose requirements on the same value family that no value
// can satisfy. Terminal for the graph; never retried with the same input.
type UnsatError struct {
	Column graph.ColumnRef
	First  graph.Edge
	Second graph.Edge
}

func (e *UnsatError) Error() string {
	return fmt.Sprintf("unsat: contradictory constraints on %s: %s vs %s",
		e.Column, describeEdge(e.First), describeEdge(e.Second))
}

// UnsolvedError reports a graph shape the generic rules do not cover and
// for which no fallback recipe matched. Recoverable by adding a recipe for
// the fingerprint; never silently ignored.
type UnsolvedError struct {
	Fingerprint string
	Reason      string
	Edges       []graph.Edge
}

func (e *UnsolvedError) Error() string {
	return fmt.Sprintf("unsolved: %s (fingerprint %.12s, %d uncovered edges)",
		e.Reason, e.Fingerprint, len(e.Edges))
}

// IsUnsat reports whether err is (or wraps) an UnsatError.
func IsUnsat(err error) bool {
	var ue *UnsatError
	return errors.As(err, &ue)
}

// IsUnsolved reports whether err is (or wraps) an UnsolvedError.
func IsUnsolved(err error) bool {
	var ue *UnsolvedError
	return errors.As(err, &ue)
}

func describeEdge(e graph.Edge) string {
	switch e.Kind {
	case graph.KindEquality:
		if e.Right != nil {
			return fmt.Sprintf("%s = %s", e.Left, *e.Right)
		}
		return fmt.Sprintf("%s = %v", e.Left, e.Literal)
	case graph.KindRange:
		return fmt.Sprintf("range on %s", e.Left)
	case graph.KindArithmeticOffset:
		return fmt.Sprintf("%s = %s + %d", e.Left, *e.Right, e.Offset)
	default:
		return e.Kind.String()
	}
}
