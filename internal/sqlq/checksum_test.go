package sqlq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rs(ordered bool, rows ...[]Value) *ResultSet {
	return &ResultSet{
		Columns: []Column{{Name: "a"}, {Name: "b"}},
		Rows:    rows,
		Ordered: ordered,
	}
}

func TestChecksumIgnoresRowOrderForUnorderedResults(t *testing.T) {
	a := rs(false, []Value{Int(1), Str("x")}, []Value{Int(2), Str("y")})
	b := rs(false, []Value{Int(2), Str("y")}, []Value{Int(1), Str("x")})

	assert.Equal(t, a.Checksum(), b.Checksum(),
		"unordered results are multisets; retrieval order must not matter")
}

func TestChecksumRespectsRowOrderForOrderedResults(t *testing.T) {
	a := rs(true, []Value{Int(1), Str("x")}, []Value{Int(2), Str("y")})
	b := rs(true, []Value{Int(2), Str("y")}, []Value{Int(1), Str("x")})

	assert.NotEqual(t, a.Checksum(), b.Checksum())
}

func TestChecksumCountsDuplicates(t *testing.T) {
	once := rs(false, []Value{Int(1), Str("x")})
	twice := rs(false, []Value{Int(1), Str("x")}, []Value{Int(1), Str("x")})

	assert.NotEqual(t, once.Checksum(), twice.Checksum(),
		"multiset semantics: duplicate rows count")
}

func TestChecksumOrderedAndUnorderedNeverCollide(t *testing.T) {
	a := rs(false, []Value{Int(1), Str("x")})
	b := rs(true, []Value{Int(1), Str("x")})

	assert.NotEqual(t, a.Checksum(), b.Checksum(),
		"domain separation keeps ordered and unordered digests apart")
}

func TestRowDigestStable(t *testing.T) {
	row := []Value{Int(7), Str("q"), Null{}}
	assert.Equal(t, RowDigest(row), RowDigest(row))
	assert.Len(t, RowDigest(row), 64, "SHA-256 hex is 64 characters")
}
