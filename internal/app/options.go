package service

import (
	"time"

	"github.com/okian/typerace/internal/adapters/mq/worker"
	"github.com/okian/typerace/internal/adapters/spill"
	"github.com/okian/typerace/internal/config"
	"github.com/okian/typerace/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration components are built from.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithSink sets where outbound events are delivered. Defaults to a LogSink.
func WithSink(sink worker.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithSpill sets the spill file used for progress that cannot be flushed at
// shutdown. Its contents are replayed on Start.
func WithSpill(f *spill.File) Option {
	return func(s *Service) {
		s.spill = f
	}
}

// WithBotSeed makes bot profiles and typing deterministic.
func WithBotSeed(seed int64) Option {
	return func(s *Service) {
		s.botSeed = &seed
	}
}

// WithClock overrides the time source of the service and its components.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
