package bot

import (
	"math/rand"
	"time"

	"github.com/okian/typerace/pkg/logger"
)

// Option applies a configuration option to the Simulator.
type Option func(*Simulator)

// WithTick sets the central tick interval.
func WithTick(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithBroadcastInterval sets the minimum typing time between progress
// broadcasts of one bot.
func WithBroadcastInterval(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.broadcast = d
		}
	}
}

// WithRand sets the random source profiles and runs derive from.
func WithRand(rng *rand.Rand) Option {
	return func(s *Simulator) {
		s.rng = rng
	}
}

// WithSeed is WithRand with a fresh source seeded by seed.
func WithSeed(seed int64) Option {
	return WithRand(rand.New(rand.NewSource(seed)))
}

// WithChatter sets the chat responder.
func WithChatter(c *Chatter) Option {
	return func(s *Simulator) {
		s.chat = c
	}
}

// WithPublisher sets where progress, finish and chat events go.
func WithPublisher(p Publisher) Option {
	return func(s *Simulator) {
		s.publisher = p
	}
}

// WithOnFinish sets the callback run after a bot takes a finish position.
func WithOnFinish(fn FinishFunc) Option {
	return func(s *Simulator) {
		s.onFinish = fn
	}
}

// WithOnStop sets the callback run for bots that stop typing.
func WithOnStop(fn StopFunc) Option {
	return func(s *Simulator) {
		s.onStop = fn
	}
}

// WithChatGrace sets how long stopped bots keep answering chat.
func WithChatGrace(d time.Duration) Option {
	return func(s *Simulator) {
		if d >= 0 {
			s.chatGrace = d
		}
	}
}

// WithClock overrides the time source used by Run and HandleChat.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}
