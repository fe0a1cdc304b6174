package anticheat

import (
	"time"

	"github.com/okian/typerace/pkg/logger"
)

// Option applies a configuration option to the Validator.
type Option func(*Validator)

// WithThresholds replaces the default thresholds.
func WithThresholds(th Thresholds) Option {
	return func(v *Validator) {
		v.thresholds = th
	}
}

// WithChallengeTTL sets how long an issued challenge stays answerable.
func WithChallengeTTL(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.ttl = d
		}
	}
}

// WithPhrase sets the challenge phrase.
func WithPhrase(p string) Option {
	return func(v *Validator) {
		if p != "" {
			v.phrase = p
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}
