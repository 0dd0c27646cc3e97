package sink

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wpmeta/wpmeta/cfg"
	"github.com/wpmeta/wpmeta/publisher"
)

func init() {
	publisher.RegisterSink("log", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return NewLogSink(log.Logger.With().Str("sink", config.Name).Logger()), nil
	})
}

// LogSink writes change events to a zerolog logger. It is meant for
// dry runs and for sites that ship the process log elsewhere.
type LogSink struct {
	mu     sync.Mutex
	logger zerolog.Logger
	count  int
	closed bool
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs one event with its raw JSON payload
func (s *LogSink) Publish(topic, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.logger.Info().
		Str("topic", topic).
		Str("key", key).
		RawJSON("event", value).
		Msg("Change event")
	return nil
}

// Published returns the number of events written
func (s *LogSink) Published() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close marks the sink closed
func (s *LogSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
