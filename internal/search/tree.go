package search

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/tmakaro/requal/internal/equiv"
	"github.com/tmakaro/requal/internal/rewrite"
)

// node is one point in the rewrite tree. The root holds the baseline
// text; every child is the result of applying one rule to its parent.
type node struct {
	sql      string
	rule     string
	prior    float64
	visits   int
	reward   float64
	parent   *node
	children []*node
	expanded bool
}

// value is the mean reward across this node's visits.
func (n *node) value() float64 {
	if n.visits == 0 {
		return 0
	}
	return n.reward / float64(n.visits)
}

// TreeStrategy explores rewrite compositions with PUCT-guided selection.
// Each iteration walks from the root to an unexpanded node, expands it
// with every applicable rewrite rule, evaluates the most promising new
// child, and backpropagates the observed reward.
type TreeStrategy struct {
	iterations  int
	exploration float64
	minSpeedup  float64
	rules       []rewrite.Rule
}

// TreeOption configures a TreeStrategy.
type TreeOption func(*TreeStrategy)

// WithIterations bounds the number of select-expand-evaluate cycles.
func WithIterations(n int) TreeOption {
	return func(s *TreeStrategy) {
		if n >= 1 {
			s.iterations = n
		}
	}
}

// WithExploration sets the PUCT exploration constant.
func WithExploration(c float64) TreeOption {
	return func(s *TreeStrategy) {
		if c > 0 {
			s.exploration = c
		}
	}
}

// WithTreeMinSpeedup sets the promotion bar for the tree winner.
func WithTreeMinSpeedup(f float64) TreeOption {
	return func(s *TreeStrategy) {
		if f > 0 {
			s.minSpeedup = f
		}
	}
}

// NewTreeStrategy builds a tree strategy over the full rule catalogue.
func NewTreeStrategy(opts ...TreeOption) *TreeStrategy {
	s := &TreeStrategy{
		iterations:  32,
		exploration: 1.4,
		minSpeedup:  1.0,
		rules:       rewrite.Catalogue(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Strategy.
func (s *TreeStrategy) Name() string { return "tree" }

// Run implements Strategy.
func (s *TreeStrategy) Run(ctx context.Context, ev Evaluator) (*Outcome, error) {
	root := &node{sql: ev.BaselineSQL(), expanded: false}
	seen := map[string]bool{root.sql: true}
	var pool []*Candidate

	for i := 0; i < s.iterations; i++ {
		if ctx.Err() != nil {
			break
		}

		leaf := s.selectLeaf(root)
		fresh := s.expand(leaf, seen)
		if len(fresh) == 0 {
			// Nothing new under this node; count the visit so selection
			// moves elsewhere next iteration.
			backpropagate(leaf, 0)
			continue
		}

		child := fresh[0]
		for _, c := range fresh[1:] {
			if c.prior > child.prior {
				child = c
			}
		}

		cand := NewCandidate(Proposal{SQL: child.sql, Provenance: "rule:" + child.rule})
		if err := ev.Evaluate(ctx, cand); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				break
			}
			// Machinery failures block their candidate only; the
			// search carries on with the rest of the tree.
			slog.Warn("candidate evaluation failed", "candidate", cand.ID, "error", err)
			cand.Verdict = &equiv.Verdict{Status: equiv.StatusBlocked, BlockerReason: err.Error()}
			cand.Bench = nil
		}
		pool = append(pool, cand)
		backpropagate(child, cand.Reward())
		slog.Debug("tree iteration",
			"iteration", i,
			"rule", child.rule,
			"reward", cand.Reward(),
			"pool", len(pool),
		)
	}

	rankPool(pool)
	leader := firstPromotable(pool)
	if leader == nil || leader.Bench.Speedup < s.minSpeedup {
		return baselineOutcome(pool), nil
	}
	return promote(leader, pool), nil
}

// selectLeaf descends by PUCT score until it reaches an unexpanded node.
func (s *TreeStrategy) selectLeaf(root *node) *node {
	n := root
	for n.expanded && len(n.children) > 0 {
		n = s.bestChild(n)
	}
	return n
}

// firstPlayUrgency stands in for the mean reward of a child that has
// never been visited. Rewards stay below 1, so every child is tried once
// before any sibling is revisited on value alone.
const firstPlayUrgency = 1.0

// bestChild scores children with Q + c * P * sqrt(sum sibling visits) /
// (1 + N), substituting firstPlayUrgency for Q on unvisited children.
func (s *TreeStrategy) bestChild(n *node) *node {
	total := 0
	for _, c := range n.children {
		total += c.visits
	}
	sqrtTotal := math.Sqrt(float64(total))

	best, bestScore := n.children[0], math.Inf(-1)
	for _, c := range n.children {
		q := firstPlayUrgency
		if c.visits > 0 {
			q = c.value()
		}
		score := q + s.exploration*c.prior*sqrtTotal/float64(1+c.visits)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// expand applies every rule to the node's text, discarding no-ops and
// texts already present anywhere in the tree. Returns the new children.
func (s *TreeStrategy) expand(n *node, seen map[string]bool) []*node {
	n.expanded = true
	var fresh []*node
	for _, r := range s.rules {
		out, changed := rewrite.Apply(r, n.sql)
		if !changed || seen[out] {
			continue
		}
		seen[out] = true
		child := &node{
			sql:    out,
			rule:   r.Name(),
			prior:  r.Prior(),
			parent: n,
		}
		n.children = append(n.children, child)
		fresh = append(fresh, child)
	}
	return fresh
}

func backpropagate(n *node, reward float64) {
	for ; n != nil; n = n.parent {
		n.visits++
		n.reward += reward
	}
}
