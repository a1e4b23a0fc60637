package sqlq

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Domain prefixes for content-addressed checksums.
// The version suffix allows the encoding to change without old digests
// silently colliding with new ones.
const (
	domainRow       = "requal/row/v1"
	domainResultSet = "requal/resultset/v1"
	domainOrdered   = "requal/resultset-ordered/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain || 0x00 || data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RowDigest computes the digest of a single canonical row.
func RowDigest(row []Value) string {
	return hashWithDomain(domainRow, []byte(CanonicalRow(row)))
}

// Checksum computes the result-set digest.
//
// When ordered is false the rows form a multiset: per-row digests are
// sorted before the outer hash, so insertion and retrieval order are
// irrelevant. When ordered is true (the query carries an explicit ORDER BY)
// row order participates in the digest.
func (rs *ResultSet) Checksum() string {
	digests := make([]string, len(rs.Rows))
	for i, row := range rs.Rows {
		digests[i] = RowDigest(row)
	}

	domain := domainResultSet
	if rs.Ordered {
		domain = domainOrdered
	} else {
		sort.Strings(digests)
	}

	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	for _, d := range digests {
		h.Write([]byte(d))
		h.Write([]byte{0x00})
	}
	return hex.EncodeToString(h.Sum(nil))
}
