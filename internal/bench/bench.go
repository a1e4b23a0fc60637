// Package bench times query executions and reduces them to a trimmed-mean
// latency, a speedup ratio, and a normalized reward.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/tmakaro/requal/internal/sqlq"
)

// PenaltyReward is assigned to a timed-out candidate instead of its raw
// ratio, bounding the influence of one pathological run. On the normalized
// scale it sits below any genuine speedup above 2/3 of baseline.
const PenaltyReward = 0.4

// DefaultRuns is the default number of executions per measurement,
// including the warmup run.
const DefaultRuns = 5

// DefaultTimeoutFactor bounds each candidate run at this multiple of the
// baseline trimmed mean.
const DefaultTimeoutFactor = 2.0

// Result is one candidate's benchmark outcome.
type Result struct {
	RawLatencies []time.Duration `json:"raw_latencies"`
	TrimmedMean  time.Duration   `json:"trimmed_mean"`
	Speedup      float64         `json:"speedup"`
	TimedOut     bool            `json:"timed_out"`
}

// Reward maps the result onto the normalized reward scale used for
// ranking and tree backpropagation: speedup s becomes s/(1+s), so 1.0×
// is 0.5 and the scale saturates toward 1. A timed-out candidate gets the
// fixed PenaltyReward regardless of its nominal timings.
func (r Result) Reward() float64 {
	if r.TimedOut {
		return PenaltyReward
	}
	if r.Speedup <= 0 {
		return 0
	}
	return r.Speedup / (1 + r.Speedup)
}

// Runner executes the measured query once and reports its latency.
type Runner interface {
	Run(ctx context.Context) (time.Duration, error)
}

// QueryRunner runs a SQL text against a connection, draining all rows so
// the measurement covers materialization, not just first-byte latency.
type QueryRunner struct {
	DB   sqlq.Querier
	Text string
}

// Run implements Runner.
func (q QueryRunner) Run(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	rows, err := q.DB.QueryContext(ctx, q.Text)
	if err != nil {
		return 0, fmt.Errorf("benchmark run: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("benchmark drain: %w", err)
	}
	return time.Since(start), nil
}

// Harness measures queries with warmup discard and trimmed-mean reduction.
type Harness struct {
	runs          int
	timeoutFactor float64
	timeout       time.Duration // explicit per-run budget; overrides factor
}

// Option configures a Harness.
type Option func(*Harness)

// WithRuns sets K, the number of executions including warmup. Values
// below 3 are raised to 3: one warmup plus at least two measured runs.
func WithRuns(k int) Option {
	return func(h *Harness) {
		if k < 3 {
			k = 3
		}
		h.runs = k
	}
}

// WithTimeoutFactor sets the per-run budget as a multiple of the baseline
// trimmed mean. Default 2.0.
func WithTimeoutFactor(f float64) Option {
	return func(h *Harness) {
		if f > 0 {
			h.timeoutFactor = f
		}
	}
}

// WithTimeout sets a fixed per-run budget, overriding the factor.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) { h.timeout = d }
}

// New creates a Harness.
func New(opts ...Option) *Harness {
	h := &Harness{runs: DefaultRuns, timeoutFactor: DefaultTimeoutFactor}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Baseline measures the baseline query itself: no timeout budget (the
// baseline defines the budget), speedup fixed at 1.
func (h *Harness) Baseline(ctx context.Context, r Runner) (Result, error) {
	res, err := h.measure(ctx, r, 0)
	if err != nil {
		return Result{}, err
	}
	res.Speedup = 1
	return res, nil
}

// Measure times a candidate against a baseline trimmed mean. A run
// exceeding the budget marks the result timed-out; remaining runs are
// skipped and sibling candidates are unaffected.
func (h *Harness) Measure(ctx context.Context, r Runner, baseline time.Duration) (Result, error) {
	return h.measure(ctx, r, baseline)
}

func (h *Harness) measure(ctx context.Context, r Runner, baseline time.Duration) (Result, error) {
	budget := h.timeout
	if budget == 0 && baseline > 0 {
		budget = time.Duration(float64(baseline) * h.timeoutFactor)
	}

	res := Result{}
	for i := 0; i < h.runs; i++ {
		runCtx := ctx
		cancel := context.CancelFunc(func() {})
		if budget > 0 {
			runCtx, cancel = context.WithTimeout(ctx, budget)
		}
		lat, err := r.Run(runCtx)
		cancel()

		switch {
		case err == nil && (budget == 0 || lat <= budget):
			res.RawLatencies = append(res.RawLatencies, lat)
		case errors.Is(err, context.DeadlineExceeded) || (err == nil && budget > 0 && lat > budget):
			slog.Debug("benchmark run timed out", "run", i, "budget", budget)
			res.TimedOut = true
			res.TrimmedMean = 0
			return res, nil
		case errors.Is(err, context.Canceled):
			return Result{}, ctx.Err()
		default:
			return Result{}, err
		}
	}

	// First run is always warmup, unconditionally discarded.
	measured := res.RawLatencies[1:]
	res.TrimmedMean = TrimmedMean(measured)
	if baseline > 0 && res.TrimmedMean > 0 {
		res.Speedup = float64(baseline) / float64(res.TrimmedMean)
	}
	return res, nil
}

// TrimmedMean averages samples after dropping the single fastest and
// slowest, provided at least three samples remain to be trimmed from;
// with fewer it is the plain arithmetic mean.
func TrimmedMean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	s := make([]time.Duration, len(samples))
	copy(s, samples)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })

	if len(s) >= 3 {
		s = s[1 : len(s)-1]
	}
	var sum time.Duration
	for _, d := range s {
		sum += d
	}
	return sum / time.Duration(len(s))
}
