package search

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tmakaro/requal/internal/equiv"
)

// Proposer supplies one extra batch of candidates seeded by the current
// front-runner. Strategies that support a snipe round call it at most
// once per run.
type Proposer interface {
	Propose(ctx context.Context, leader *Candidate) ([]Proposal, error)
}

// Rebenchmarker refreshes the verdict and timing of an already-evaluated
// candidate. Evaluators that implement it get a confirmation pass on the
// would-be winner before promotion.
type Rebenchmarker interface {
	Rebenchmark(ctx context.Context, c *Candidate) error
}

// PoolStrategy evaluates a fixed pool of proposals concurrently and
// promotes the fastest verified-equivalent candidate. When the best
// verified speedup stays under the promotion bar and a Proposer is
// configured, one snipe round seeded by the leader runs before settling.
type PoolStrategy struct {
	proposals  []Proposal
	workers    int
	minSpeedup float64
	proposer   Proposer
}

// PoolOption configures a PoolStrategy.
type PoolOption func(*PoolStrategy)

// WithWorkers bounds concurrent candidate evaluations. Values below 1
// fall back to the default of 4.
func WithWorkers(n int) PoolOption {
	return func(s *PoolStrategy) {
		if n >= 1 {
			s.workers = n
		}
	}
}

// WithMinSpeedup sets the promotion bar: a winner whose measured speedup
// is below it leaves the baseline in place.
func WithMinSpeedup(f float64) PoolOption {
	return func(s *PoolStrategy) {
		if f > 0 {
			s.minSpeedup = f
		}
	}
}

// WithProposer enables the snipe round.
func WithProposer(p Proposer) PoolOption {
	return func(s *PoolStrategy) { s.proposer = p }
}

// NewPoolStrategy builds a pool strategy over the given proposals.
func NewPoolStrategy(proposals []Proposal, opts ...PoolOption) *PoolStrategy {
	s := &PoolStrategy{
		proposals:  proposals,
		workers:    4,
		minSpeedup: 1.0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Strategy.
func (s *PoolStrategy) Name() string { return "pool" }

// Run implements Strategy. Machinery failures on individual candidates
// block those candidates only; verdict-level rejections are recorded as
// usual. When the context deadline cuts evaluation short, the round
// settles on whatever has been fully evaluated so far.
func (s *PoolStrategy) Run(ctx context.Context, ev Evaluator) (*Outcome, error) {
	pool := s.evaluate(ctx, ev, s.proposals)
	rankPool(pool)

	leader := firstPromotable(pool)
	if s.proposer != nil && leader != nil && leader.Bench.Speedup < s.minSpeedup {
		extra, perr := s.proposer.Propose(ctx, leader)
		if perr != nil {
			slog.Warn("snipe round skipped", "error", perr)
		} else if len(extra) > 0 {
			slog.Info("snipe round", "seeded_by", leader.ID, "proposals", len(extra))
			pool = append(pool, s.evaluate(ctx, ev, extra)...)
			rankPool(pool)
			leader = firstPromotable(pool)
		}
	}

	// The would-be winner is confirmed once more right before promotion.
	// When confirmation demotes it, the next promotable candidate gets
	// its turn until one survives or the pool runs out.
	if rb, ok := ev.(Rebenchmarker); ok {
		confirmed := map[string]bool{}
		for leader != nil && leader.Bench.Speedup >= s.minSpeedup && !confirmed[leader.ID] {
			confirmed[leader.ID] = true
			if err := rb.Rebenchmark(ctx, leader); err != nil {
				slog.Warn("winner confirmation failed", "candidate", leader.ID, "error", err)
				leader.Verdict = &equiv.Verdict{Status: equiv.StatusBlocked, BlockerReason: err.Error()}
				leader.Bench = nil
			}
			rankPool(pool)
			leader = firstPromotable(pool)
		}
	}

	if leader == nil || leader.Bench.Speedup < s.minSpeedup {
		slog.Info("baseline retained", "pool", len(pool))
		return baselineOutcome(pool), nil
	}
	return promote(leader, pool), nil
}

// evaluate runs every proposal through the evaluator under the worker
// bound. A context cancellation ends the batch without failing it;
// unevaluated candidates simply never join the pool. Any other machinery
// error blocks its candidate and leaves the rest of the batch running.
func (s *PoolStrategy) evaluate(ctx context.Context, ev Evaluator, proposals []Proposal) []*Candidate {
	pool := make([]*Candidate, len(proposals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, p := range proposals {
		g.Go(func() error {
			c := NewCandidate(p)
			if err := ev.Evaluate(gctx, c); err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return nil
				}
				slog.Warn("candidate evaluation failed", "candidate", c.ID, "error", err)
				c.Verdict = &equiv.Verdict{Status: equiv.StatusBlocked, BlockerReason: err.Error()}
				c.Bench = nil
			}
			pool[i] = c
			return nil
		})
	}
	g.Wait()
	done := pool[:0]
	for _, c := range pool {
		if c != nil {
			done = append(done, c)
		}
	}
	return done
}

func firstPromotable(pool []*Candidate) *Candidate {
	for _, c := range pool {
		if c.Promotable() {
			return c
		}
	}
	return nil
}
