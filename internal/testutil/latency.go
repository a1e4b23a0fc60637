// Package testutil provides deterministic helpers for tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// ScriptedRunner replays a fixed sequence of latencies as benchmark runs.
//
// The harness trusts the latency a Runner reports, so scripted values flow
// straight into trimmed-mean math without any sleeping. This enables
// exact-value assertions on timing reductions.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ScriptedRunner struct {
	mu        sync.Mutex
	latencies []time.Duration
	err       error
	calls     int
}

// NewScriptedRunner creates a runner that reports the given latencies in
// order. When the script is exhausted, the last latency repeats.
func NewScriptedRunner(latencies ...time.Duration) *ScriptedRunner {
	return &ScriptedRunner{latencies: latencies}
}

// Fail makes every subsequent run return err instead of a latency.
func (r *ScriptedRunner) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Run implements the benchmark Runner contract.
func (r *ScriptedRunner) Run(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	i := r.calls
	r.calls++
	if i >= len(r.latencies) {
		i = len(r.latencies) - 1
	}
	return r.latencies[i], nil
}

// Calls returns how many runs have been requested.
func (r *ScriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Reset rewinds the script for test reuse.
func (r *ScriptedRunner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = 0
	r.err = nil
}
