package rating

import (
	"time"

	"github.com/okian/typerace/internal/domain/dedupe"
	"github.com/okian/typerace/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithParams replaces the Elo constants.
func WithParams(p Params) Option {
	return func(e *Engine) {
		e.params = p
	}
}

// WithDecay replaces the decay schedule.
func WithDecay(p DecayParams) Option {
	return func(e *Engine) {
		e.decay = p
	}
}

// WithDeduper sets the per-race marker used to skip repeated processing.
func WithDeduper(d dedupe.Deduper) Option {
	return func(e *Engine) {
		if d != nil {
			e.seen = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
