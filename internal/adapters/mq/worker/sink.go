package worker

import (
	"context"
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/okian/typerace/pkg/logger"
)

// Sink receives delivered events.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, ev Event) error { //nolint:gocritic // hugeParam: Event is passed by value through the channel
	return f(ctx, ev)
}

// LogSink encodes events as JSON and logs them at debug level.
type LogSink struct {
	logger logger.Logger
}

// NewLogSink creates a LogSink. A nil logger uses the global one.
func NewLogSink(l logger.Logger) *LogSink {
	if l == nil {
		l = logger.Get().Named("events")
	}
	return &LogSink{logger: l}
}

// Deliver logs ev.
func (s *LogSink) Deliver(ctx context.Context, ev Event) error { //nolint:gocritic // hugeParam: Event is passed by value through the channel
	payload, err := sonnet.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	s.logger.Debug(ctx, "race event",
		logger.String("type", string(ev.Type)),
		logger.String("race_id", ev.RaceID),
		logger.String("payload", string(payload)))
	return nil
}

// MultiSink delivers to every sink and returns the first error.
type MultiSink []Sink

// Deliver fans ev out to all sinks.
func (m MultiSink) Deliver(ctx context.Context, ev Event) error { //nolint:gocritic // hugeParam: Event is passed by value through the channel
	var first error
	for _, s := range m {
		if err := s.Deliver(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
