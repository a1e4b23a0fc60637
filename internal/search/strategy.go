package search

import (
	"context"
)

// Evaluator is the shared validate-then-benchmark contract both
// strategies run candidates through. Implementations must validate before
// ever producing a timing, and must leave a candidate without a Pass
// verdict un-benchmarked or with its timing ignored.
type Evaluator interface {
	// BaselineSQL is the unmodified baseline query text.
	BaselineSQL() string

	// Evaluate fills the candidate's Verdict and, only on Pass, its
	// Bench result. An error means the evaluation machinery itself
	// failed; verdict-level failures are recorded on the candidate,
	// not returned.
	Evaluate(ctx context.Context, c *Candidate) error
}

// Strategy is one search discipline over the Evaluator contract.
type Strategy interface {
	Name() string
	Run(ctx context.Context, ev Evaluator) (*Outcome, error)
}

// baselineOutcome is the shared "baseline retained" result.
func baselineOutcome(pool []*Candidate) *Outcome {
	rankPool(pool)
	return &Outcome{BaselineRetained: true, Pool: pool}
}

// promote builds the outcome for a winning candidate. Callers must have
// checked Promotable; promote guards it again because no ranking bug may
// ever ship a non-Pass candidate.
func promote(winner *Candidate, pool []*Candidate) *Outcome {
	if !winner.Promotable() {
		return baselineOutcome(pool)
	}
	rankPool(pool)
	return &Outcome{Promoted: winner, Pool: pool}
}
