package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// domainShape versions the fingerprint encoding. Bumping it invalidates
// every recipe-registry key, so it only changes with the shape grammar.
const domainShape = "requal/graph-shape/v1"

// Fingerprint computes the structural fingerprint of the graph: a stable
// digest over the sorted edge shapes with literal values elided. Two
// queries that differ only in literals share a fingerprint, which is what
// keys the fallback-recipe registry and the cached-fixture pool.
func (g *Graph) Fingerprint() string {
	shapes := make([]string, 0, len(g.edges))
	for _, e := range g.edges {
		shapes = append(shapes, edgeShape(e))
	}
	sort.Strings(shapes)

	h := sha256.New()
	h.Write([]byte(domainShape))
	h.Write([]byte{0x00})
	for _, s := range shapes {
		h.Write([]byte(s))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// edgeShape renders one edge with literals elided. Column refs keep their
// table alias and column name; those are structure, not data.
func edgeShape(e Edge) string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteByte('|')
	b.WriteString(e.Left.String())

	switch e.Kind {
	case KindEquality:
		if e.Right != nil {
			b.WriteString("=" + e.Right.String())
		} else {
			b.WriteString("=<lit>")
		}
	case KindRange:
		b.WriteString("|low=")
		b.WriteString(boundShape(e.Low != nil, e.LowClosed))
		b.WriteString("|high=")
		b.WriteString(boundShape(e.High != nil, e.HighClosed))
	case KindArithmeticOffset:
		// The offset constant is elided like any other literal.
		b.WriteString("=" + e.Right.String() + "+<n>")
	case KindAggregateThreshold:
		fmt.Fprintf(&b, "|%s(%s@%s)%s<lit>|group=", e.Agg, e.AggColumn, e.AggTable, e.Op)
		for i, gcol := range e.GroupBy {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(gcol.String())
		}
	case KindAntiPattern:
		// Table alias alone identifies the shape.
	case KindUnsolved:
		b.WriteString("|raw=" + e.Raw)
	}

	return b.String()
}

func boundShape(present, closed bool) string {
	if !present {
		return "none"
	}
	if closed {
		return "closed"
	}
	return "open"
}
