package equiv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmakaro/requal/internal/sqlq"
)

func set(cols []string, rows ...[]sqlq.Value) *sqlq.ResultSet {
	rs := &sqlq.ResultSet{Rows: rows}
	for _, c := range cols {
		rs.Columns = append(rs.Columns, sqlq.Column{Name: c})
	}
	return rs
}

func TestCompareEqualSetsPass(t *testing.T) {
	a := set([]string{"id", "name"}, []sqlq.Value{sqlq.Int(1), sqlq.Str("x")})
	b := set([]string{"id", "name"}, []sqlq.Value{sqlq.Int(1), sqlq.Str("x")})

	v := New().Compare(a, b)
	assert.Equal(t, StatusPass, v.Status)
	assert.True(t, v.SchemaMatch)
	assert.True(t, v.RowcountMatch)
	assert.True(t, v.ChecksumMatch)
	assert.True(t, v.Promotable())
}

func TestCompareRowOrderIrrelevantWithoutOrderBy(t *testing.T) {
	a := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)}, []sqlq.Value{sqlq.Int(2)})
	b := set([]string{"id"}, []sqlq.Value{sqlq.Int(2)}, []sqlq.Value{sqlq.Int(1)})

	assert.Equal(t, StatusPass, New().Compare(a, b).Status)
}

func TestCompareSchemaMismatchShortCircuits(t *testing.T) {
	a := set([]string{"id", "name"}, []sqlq.Value{sqlq.Int(1), sqlq.Str("x")})
	b := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})

	v := New().Compare(a, b)
	assert.Equal(t, StatusFail, v.Status)
	assert.False(t, v.SchemaMatch)
	assert.False(t, v.RowcountMatch, "rowcount is never reached after a schema mismatch")
	assert.False(t, v.ChecksumMatch)
}

func TestCompareRowcountMismatch(t *testing.T) {
	a := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})
	b := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)}, []sqlq.Value{sqlq.Int(1)})

	v := New().Compare(a, b)
	assert.Equal(t, StatusFail, v.Status)
	assert.True(t, v.SchemaMatch)
	assert.False(t, v.RowcountMatch)
	assert.False(t, v.ChecksumMatch)
}

func TestCompareChecksumMismatch(t *testing.T) {
	a := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})
	b := set([]string{"id"}, []sqlq.Value{sqlq.Int(2)})

	v := New().Compare(a, b)
	assert.Equal(t, StatusFail, v.Status)
	assert.True(t, v.SchemaMatch)
	assert.True(t, v.RowcountMatch)
	assert.False(t, v.ChecksumMatch)
}

func TestCompareMonotonicity(t *testing.T) {
	sets := []*sqlq.ResultSet{
		set([]string{"id"}, []sqlq.Value{sqlq.Int(1)}),
		set([]string{"id"}, []sqlq.Value{sqlq.Int(2)}),
		set([]string{"other"}, []sqlq.Value{sqlq.Int(1)}),
		set([]string{"id"}),
	}
	v := New()
	for _, a := range sets {
		for _, b := range sets {
			verdict := v.Compare(a, b)
			if verdict.ChecksumMatch {
				assert.True(t, verdict.RowcountMatch)
			}
			if verdict.RowcountMatch {
				assert.True(t, verdict.SchemaMatch)
			}
		}
	}
}

func TestCompareIdempotent(t *testing.T) {
	a := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})
	b := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})

	v := New()
	first := v.Compare(a, b)
	second := v.Compare(a, b)
	assert.Equal(t, first, second)
}

func TestCompareMissingResultIsBlockedNotFail(t *testing.T) {
	a := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})

	v := New().Compare(a, nil)
	assert.Equal(t, StatusBlocked, v.Status)
	assert.NotEqual(t, StatusFail, v.Status)
	assert.NotEmpty(t, v.BlockerReason)
	assert.False(t, v.Promotable(), "Blocked is never promoted")
}

func TestCompareCaseSensitivityKnob(t *testing.T) {
	a := set([]string{"ID"}, []sqlq.Value{sqlq.Int(1)})
	b := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})

	assert.Equal(t, StatusFail, New().Compare(a, b).Status,
		"strict by default")
	assert.Equal(t, StatusPass, New(WithCaseInsensitive()).Compare(a, b).Status)
}

func TestCompareAllPositional(t *testing.T) {
	a := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})
	good := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})
	bad := set([]string{"id"}, []sqlq.Value{sqlq.Int(9)})

	verdicts := New().CompareAll(a, good, nil, bad)
	require.Len(t, verdicts, 3)
	assert.Equal(t, StatusPass, verdicts[0].Status)
	assert.Equal(t, StatusBlocked, verdicts[1].Status)
	assert.Equal(t, StatusFail, verdicts[2].Status)
}

func TestRevalidateRaceModeReusesOnlyPass(t *testing.T) {
	a := set([]string{"id"}, []sqlq.Value{sqlq.Int(1)})
	stale := set([]string{"id"}, []sqlq.Value{sqlq.Int(2)})

	pass := Verdict{SchemaMatch: true, RowcountMatch: true, ChecksumMatch: true, Status: StatusPass}
	fail := Verdict{Status: StatusFail}

	race := New(WithRaceMode())
	assert.Equal(t, StatusPass, race.Revalidate(&pass, a, stale).Status,
		"race mode trusts a prior strict Pass")
	assert.Equal(t, StatusFail, race.Revalidate(&fail, a, stale).Status,
		"a prior Fail forces full comparison and fails again here")
	assert.Equal(t, StatusBlocked, race.Revalidate(nil, a, nil).Status,
		"a missing artifact is Blocked, never Pass")

	strict := New()
	assert.Equal(t, StatusFail, strict.Revalidate(&pass, a, stale).Status,
		"without race mode the prior verdict is ignored")

	assert.True(t, race.ReusesPass(&pass))
	assert.False(t, race.ReusesPass(&fail))
	assert.False(t, race.ReusesPass(nil))
	assert.False(t, strict.ReusesPass(&pass))
}
