package rewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleByName(t *testing.T, name string) Rule {
	t.Helper()
	for _, r := range Catalogue() {
		if r.Name() == name {
			return r
		}
	}
	t.Fatalf("no rule named %q", name)
	return nil
}

func TestCatalogueIsFixed(t *testing.T) {
	first := Catalogue()
	second := Catalogue()

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name(), second[i].Name())
		assert.Equal(t, first[i].Prior(), second[i].Prior())
	}
}

func TestBetweenToRange(t *testing.T) {
	r := ruleByName(t, "between-to-range")

	out, ok := Apply(r, "SELECT * FROM t WHERE t.a BETWEEN 1 AND 9")
	require.True(t, ok)
	assert.NotContains(t, strings.ToUpper(out), "BETWEEN")
	assert.Contains(t, out, ">=")
	assert.Contains(t, out, "<=")
}

func TestRangeToBetween(t *testing.T) {
	r := ruleByName(t, "range-to-between")

	out, ok := Apply(r, "SELECT * FROM t WHERE t.a >= 1 AND t.a <= 9")
	require.True(t, ok)
	assert.Contains(t, strings.ToUpper(out), "BETWEEN")
}

func TestRangeToBetweenRequiresSameColumn(t *testing.T) {
	r := ruleByName(t, "range-to-between")

	_, ok := Apply(r, "SELECT * FROM t WHERE t.a >= 1 AND t.b <= 9")
	assert.False(t, ok, "bounds on different columns are not a BETWEEN")
}

func TestInListToOrChain(t *testing.T) {
	r := ruleByName(t, "in-to-or")

	out, ok := Apply(r, "SELECT * FROM t WHERE t.a IN (1, 2, 3)")
	require.True(t, ok)
	assert.Contains(t, strings.ToUpper(out), "OR")
	assert.NotContains(t, strings.ToUpper(out), " IN ")
}

func TestOrChainToInList(t *testing.T) {
	r := ruleByName(t, "or-to-in")

	out, ok := Apply(r, "SELECT * FROM t WHERE t.a = 1 OR t.a = 2")
	require.True(t, ok)
	assert.Contains(t, strings.ToUpper(out), "IN")
}

func TestCommuteEquality(t *testing.T) {
	r := ruleByName(t, "commute-equality")

	out, ok := Apply(r, "SELECT * FROM a, b WHERE a.x = b.y")
	require.True(t, ok)
	assert.Contains(t, out, "`b`.`y`=`a`.`x`")
}

func TestCommuteInnerJoin(t *testing.T) {
	r := ruleByName(t, "commute-join")

	out, ok := Apply(r, "SELECT u.id FROM orders o JOIN users u ON o.user_id = u.id")
	require.True(t, ok)
	assert.NotEmpty(t, out)
}

func TestNoOpIsDiscarded(t *testing.T) {
	r := ruleByName(t, "between-to-range")

	// No BETWEEN anywhere: the rule cannot apply.
	_, ok := Apply(r, "SELECT * FROM t WHERE t.a = 1")
	assert.False(t, ok)
}

func TestApplyRejectsUnparsableText(t *testing.T) {
	r := ruleByName(t, "between-to-range")

	_, ok := Apply(r, "SELEKT gibberish")
	assert.False(t, ok)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	r := ruleByName(t, "between-to-range")
	const text = "SELECT * FROM t WHERE t.a BETWEEN 1 AND 9"

	out1, ok1 := Apply(r, text)
	out2, ok2 := Apply(r, text)

	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, out1, out2, "each application parses its own copy")
}

func TestRoundTripRulesInvert(t *testing.T) {
	toRange := ruleByName(t, "between-to-range")
	toBetween := ruleByName(t, "range-to-between")

	mid, ok := Apply(toRange, "SELECT * FROM t WHERE t.a BETWEEN 1 AND 9")
	require.True(t, ok)

	back, ok := Apply(toBetween, mid)
	require.True(t, ok)
	assert.Contains(t, strings.ToUpper(back), "BETWEEN")
}
