// Package equiv compares result sets produced by textually different forms
// of the same query and renders a structured verdict.
package equiv

import "fmt"

// Status is the overall outcome of an equivalence comparison.
type Status int

const (
	// StatusPass: all checks held.
	StatusPass Status = iota + 1
	// StatusFail: a check did not hold. Permanent for the round.
	StatusFail
	// StatusBlocked: a required artifact was missing, so no comparison
	// ran. Distinct from Fail and never treated as Pass.
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusFail:
		return "fail"
	case StatusBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status for boundary reports.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Verdict is the immutable result of one comparison. The three booleans
// are monotone: ChecksumMatch is computed only once the other two already
// hold, so ChecksumMatch implies RowcountMatch implies SchemaMatch.
type Verdict struct {
	SchemaMatch   bool   `json:"schema_match"`
	RowcountMatch bool   `json:"rowcount_match"`
	ChecksumMatch bool   `json:"checksum_match"`
	Status        Status `json:"status"`
	BlockerReason string `json:"blocker_reason,omitempty"`
}

// Promotable reports whether a candidate carrying this verdict may ever
// be promoted. Only a strict Pass qualifies; Blocked never does.
func (v Verdict) Promotable() bool { return v.Status == StatusPass }

func blocked(reason string) Verdict {
	return Verdict{Status: StatusBlocked, BlockerReason: reason}
}
