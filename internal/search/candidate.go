// Package search drives rewrite selection: strategies propose candidates,
// the evaluator validates then benchmarks them, and the driver promotes
// the fastest verified-equivalent rewrite or retains the baseline.
package search

import (
	"sort"

	"github.com/google/uuid"

	"github.com/tmakaro/requal/internal/bench"
	"github.com/tmakaro/requal/internal/equiv"
)

// Proposal is an unevaluated rewrite with provenance.
type Proposal struct {
	SQL        string `yaml:"sql"`
	Provenance string `yaml:"provenance"`
}

// Candidate is one evaluated rewrite. Verdict and Bench stay nil until
// the evaluator fills them.
type Candidate struct {
	ID         string
	SQL        string
	Provenance string
	Verdict    *equiv.Verdict
	Bench      *bench.Result
}

// NewCandidate assigns a fresh ID to a proposal.
func NewCandidate(p Proposal) *Candidate {
	return &Candidate{
		ID:         uuid.Must(uuid.NewV7()).String(),
		SQL:        p.SQL,
		Provenance: p.Provenance,
	}
}

// Promotable reports whether the candidate may be promoted: a strict Pass
// verdict and a benchmark. Nothing else qualifies, whatever the timings
// look like.
func (c *Candidate) Promotable() bool {
	return c != nil && c.Verdict != nil && c.Verdict.Promotable() && c.Bench != nil
}

// Reward returns the candidate's normalized reward, zero when it was
// never benchmarked or never passed validation.
func (c *Candidate) Reward() float64 {
	if !c.Promotable() {
		return 0
	}
	return c.Bench.Reward()
}

// Outcome is the result of one completed search round.
type Outcome struct {
	// Promoted is the winning candidate, nil when the baseline was
	// retained. BaselineRetained is the explicit non-error "no valid
	// faster rewrite found" outcome.
	Promoted         *Candidate
	BaselineRetained bool

	// Pool is every evaluated candidate, ranked for audit. Non-Pass
	// candidates sort after all promotable ones.
	Pool []*Candidate
}

// rankPool sorts candidates best-first: promotable candidates by
// descending reward, then everything else, with ID as the deterministic
// tie-break. Completion order of the workers never matters here.
func rankPool(pool []*Candidate) {
	sort.SliceStable(pool, func(i, j int) bool {
		pi, pj := pool[i].Promotable(), pool[j].Promotable()
		if pi != pj {
			return pi
		}
		ri, rj := pool[i].Reward(), pool[j].Reward()
		if ri != rj {
			return ri > rj
		}
		return pool[i].ID < pool[j].ID
	})
}
