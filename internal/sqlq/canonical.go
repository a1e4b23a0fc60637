package sqlq

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizeNFC applies Unicode NFC normalization so that visually identical
// strings with different code point sequences hash identically.
func normalizeNFC(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}

// CanonicalRow encodes one row as a single deterministic string.
// Fields appear in column order (the schema check has already pinned column
// order by the time checksums are computed) and are joined with an
// unescapable separator.
func CanonicalRow(row []Value) string {
	var b strings.Builder
	for i, v := range row {
		if i > 0 {
			b.WriteByte(0x00)
		}
		b.WriteString(v.canonical())
	}
	return b.String()
}
