// Package sqlq holds the query and result-set model shared by the whole
// tool: parsed queries, typed result values, canonical row encoding, and
// the content-addressed checksums used for equivalence comparison.
//
// Everything in this package is deterministic. Two result sets that contain
// the same rows (as a multiset) always produce the same checksum, on any
// machine, in any iteration order.
package sqlq
