package equiv

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmakaro/requal/internal/sqlq"
)

// Validator compares result sets. The zero value is not usable; construct
// with New.
type Validator struct {
	caseInsensitive bool
	race            bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithCaseInsensitive relaxes column-name comparison. Default is strict.
func WithCaseInsensitive() Option {
	return func(v *Validator) { v.caseInsensitive = true }
}

// WithRaceMode lets Revalidate reuse a previous strict Pass instead of
// re-deriving correctness. It never upgrades a non-Pass verdict.
func WithRaceMode() Option {
	return func(v *Validator) { v.race = true }
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Compare checks a candidate result set against the baseline.
// Checks short-circuit in order: schema parity, rowcount parity, checksum
// parity. A missing result set yields Blocked, never Fail and never Pass.
func (v *Validator) Compare(baseline, candidate *sqlq.ResultSet) Verdict {
	if baseline == nil {
		return blocked("baseline result set is missing")
	}
	if candidate == nil {
		return blocked("candidate result set is missing")
	}

	verdict := Verdict{}

	if reason, ok := v.schemaParity(baseline, candidate); !ok {
		verdict.Status = StatusFail
		slog.Debug("schema parity failed", "reason", reason)
		return verdict
	}
	verdict.SchemaMatch = true

	if baseline.RowCount() != candidate.RowCount() {
		verdict.Status = StatusFail
		slog.Debug("rowcount parity failed",
			"baseline", baseline.RowCount(), "candidate", candidate.RowCount())
		return verdict
	}
	verdict.RowcountMatch = true

	// Checksum is attempted only now, which is what makes the verdict
	// booleans monotone.
	if baseline.Checksum() != candidate.Checksum() {
		verdict.Status = StatusFail
		slog.Debug("checksum parity failed")
		return verdict
	}
	verdict.ChecksumMatch = true
	verdict.Status = StatusPass
	return verdict
}

// CompareAll validates several candidate result sets against one baseline.
// Verdicts are positional; a nil candidate entry yields Blocked at its
// position.
func (v *Validator) CompareAll(baseline *sqlq.ResultSet, candidates ...*sqlq.ResultSet) []Verdict {
	out := make([]Verdict, len(candidates))
	for i, c := range candidates {
		out[i] = v.Compare(baseline, c)
	}
	return out
}

// ReusesPass reports whether Revalidate would carry the prior verdict
// forward unchanged. Callers use it to skip re-reading a candidate result
// set that race mode will never look at.
func (v *Validator) ReusesPass(prev *Verdict) bool {
	return v.race && prev != nil && prev.Status == StatusPass
}

// Revalidate is the race-mode entry point: when a previous strict Pass
// exists and race mode is on, the prior verdict is reused so only timing
// needs refreshing. Any previous status other than Pass forces a full
// comparison; Blocked and Fail are never carried forward as Pass.
func (v *Validator) Revalidate(prev *Verdict, baseline, candidate *sqlq.ResultSet) Verdict {
	if v.ReusesPass(prev) {
		return *prev
	}
	return v.Compare(baseline, candidate)
}

// schemaParity checks column count, names, and order.
func (v *Validator) schemaParity(a, b *sqlq.ResultSet) (string, bool) {
	if len(a.Columns) != len(b.Columns) {
		return fmt.Sprintf("column count %d vs %d", len(a.Columns), len(b.Columns)), false
	}
	for i := range a.Columns {
		an, bn := a.Columns[i].Name, b.Columns[i].Name
		if v.caseInsensitive {
			an, bn = strings.ToLower(an), strings.ToLower(bn)
		}
		if an != bn {
			return fmt.Sprintf("column %d name %q vs %q", i, a.Columns[i].Name, b.Columns[i].Name), false
		}
	}
	return "", true
}
