package reaper

import (
	"time"

	"github.com/okian/typerace/pkg/logger"
)

// Option applies a configuration option to the Reaper.
type Option func(*Reaper)

// WithBots sets what stops the bots of a finalized race.
func WithBots(b BotStopper) Option {
	return func(r *Reaper) {
		r.bots = b
	}
}

// WithCache sets the cache finalized races are evicted from.
func WithCache(c Evicter) Option {
	return func(r *Reaper) {
		r.cache = c
	}
}

// WithTimeouts replaces the per-status timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(r *Reaper) {
		r.timeouts = t
	}
}

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithInitialDelay sets the delay before the first sweep.
func WithInitialDelay(d time.Duration) Option {
	return func(r *Reaper) {
		if d >= 0 {
			r.initialDelay = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	}
}
