package scratch

import (
	"sync"
)

// FixtureCache shares built scratch databases between candidates that
// probe the same constraint-graph fingerprint.
//
// Construction is exclusive: the first caller for a fingerprint builds the
// fixture while everyone else waits; after that the fixture is released
// read-only to benchmarking and must not be written again.
type FixtureCache struct {
	mu       sync.Mutex
	fixtures map[string]*fixture
}

type fixture struct {
	once sync.Once
	db   *DB
	err  error
}

// NewFixtureCache creates an empty cache.
func NewFixtureCache() *FixtureCache {
	return &FixtureCache{fixtures: map[string]*fixture{}}
}

// Get returns the fixture for a fingerprint, building it exactly once via
// build. Concurrent callers for the same fingerprint block until the
// builder finishes; a build error is cached and returned to all of them.
func (c *FixtureCache) Get(fingerprint string, build func() (*DB, error)) (*DB, error) {
	c.mu.Lock()
	f, ok := c.fixtures[fingerprint]
	if !ok {
		f = &fixture{}
		c.fixtures[fingerprint] = f
	}
	c.mu.Unlock()

	f.once.Do(func() {
		f.db, f.err = build()
	})
	return f.db, f.err
}

// Close tears down every cached fixture. Returns the first teardown error.
func (c *FixtureCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for fp, f := range c.fixtures {
		if f.db != nil {
			if err := f.db.Close(); err != nil && first == nil {
				first = err
			}
		}
		delete(c.fixtures, fp)
	}
	return first
}
