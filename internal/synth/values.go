package synth

import (
	"fmt"

	"github.com/tmakaro/requal/internal/sqlq"
)

// emptyInterval reports a range whose bounds admit no value: provably
// UNSAT, as opposed to merely uncovered.
type emptyInterval struct {
	low, high sqlq.Value
}

func (e *emptyInterval) Error() string {
	return fmt.Sprintf("empty interval (%v, %v)", e.low, e.high)
}

// valueEqual compares two anchors by canonical encoding.
func valueEqual(a, b sqlq.Value) bool {
	return sqlq.CanonicalRow([]sqlq.Value{a}) == sqlq.CanonicalRow([]sqlq.Value{b})
}

// compareValues orders two comparable anchors. Integers and floats compare
// numerically (cross-type included); strings lexicographically. Mixed
// string/numeric comparisons are not orderable.
func compareValues(a, b sqlq.Value) (int, bool) {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aStr := a.(sqlq.Str)
	bs, bStr := b.(sqlq.Str)
	if aStr && bStr {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func asFloat(v sqlq.Value) (float64, bool) {
	switch n := v.(type) {
	case sqlq.Int:
		return float64(n), true
	case sqlq.Float:
		return float64(n), true
	default:
		return 0, false
	}
}

// mustLess reports a < b, defaulting to false when not orderable.
func mustLess(a, b sqlq.Value) bool {
	c, ok := compareValues(a, b)
	return ok && c < 0
}

// inInterval checks a value against merged bounds.
func inInterval(v, low sqlq.Value, lowClosed bool, high sqlq.Value, highClosed bool) bool {
	if low != nil {
		c, ok := compareValues(v, low)
		if !ok || c < 0 || (c == 0 && !lowClosed) {
			return false
		}
	}
	if high != nil {
		c, ok := compareValues(v, high)
		if !ok || c > 0 || (c == 0 && !highClosed) {
			return false
		}
	}
	return true
}

// pickInInterval chooses a deterministic anchor strictly inside the
// interval, or at a closed boundary. Returns *emptyInterval when the
// bounds contradict, an ordinary error for shapes the rules do not cover
// (routed to the recipe registry by the caller).
func pickInInterval(low sqlq.Value, lowClosed bool, high sqlq.Value, highClosed bool) (sqlq.Value, error) {
	if low != nil && high != nil {
		c, ok := compareValues(low, high)
		if !ok {
			return nil, fmt.Errorf("incomparable range bounds %v and %v", low, high)
		}
		if c > 0 || (c == 0 && !(lowClosed && highClosed)) {
			return nil, &emptyInterval{low: low, high: high}
		}
	}

	switch lo := low.(type) {
	case sqlq.Int:
		v := int64(lo)
		if !lowClosed {
			v++
		}
		candidate := sqlq.Int(v)
		if high != nil && !inInterval(candidate, low, lowClosed, high, highClosed) {
			return nil, &emptyInterval{low: low, high: high}
		}
		return candidate, nil
	case sqlq.Float:
		if high != nil {
			hf, _ := asFloat(high)
			mid := (float64(lo) + hf) / 2
			candidate := sqlq.Float(mid)
			if inInterval(candidate, low, lowClosed, high, highClosed) {
				return candidate, nil
			}
			if lowClosed {
				return sqlq.Float(float64(lo)), nil
			}
			return nil, &emptyInterval{low: low, high: high}
		}
		if lowClosed {
			return lo, nil
		}
		return sqlq.Float(float64(lo) + 1), nil
	case sqlq.Str:
		if lowClosed {
			return lo, nil
		}
		// Appending a low code point yields the smallest practical
		// successor in lexicographic order.
		candidate := sqlq.Str(string(lo) + "a")
		if high != nil && !inInterval(candidate, low, lowClosed, high, highClosed) {
			return nil, fmt.Errorf("no generic string anchor between %q and %v", string(lo), high)
		}
		return candidate, nil
	}

	// Upper bound only.
	switch hi := high.(type) {
	case sqlq.Int:
		v := int64(hi)
		if !highClosed {
			v--
		}
		return sqlq.Int(v), nil
	case sqlq.Float:
		v := float64(hi)
		if !highClosed {
			v--
		}
		return sqlq.Float(v), nil
	case sqlq.Str:
		if highClosed {
			return hi, nil
		}
		if len(string(hi)) > 0 {
			return sqlq.Str(""), nil
		}
		return nil, fmt.Errorf("no string below open upper bound %q", string(hi))
	}

	return nil, fmt.Errorf("range with no usable bound")
}
