package racecache

import (
	"time"

	"github.com/okian/typerace/pkg/logger"
)

// Option applies a configuration option to the Cache.
type Option func(*Cache)

// WithTTL sets how long an entry stays readable after its last update.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxEntries caps the number of cached races.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithMemoryBudget sets the estimated memory budget in bytes. Zero disables
// the budget.
func WithMemoryBudget(bytes int64) Option {
	return func(c *Cache) {
		if bytes >= 0 {
			c.memoryBudget = bytes
		}
	}
}

// WithFlushInterval sets how often dirty progress is flushed.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithSweepInterval sets how often expired entries are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// WithSpill sets where dirty progress goes when the shutdown flush fails.
func WithSpill(s Spiller) Option {
	return func(c *Cache) {
		c.spill = s
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}
