package publisher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wpmeta/wpmeta/telemetry"
)

const (
	// DefaultBatchSize is the number of events read per poll cycle
	DefaultBatchSize = 100
	// DefaultPollInterval is the sleep between empty poll cycles
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultRetryInitial is the first retry delay of a failed publish
	DefaultRetryInitial = 100 * time.Millisecond
	// DefaultRetryMax caps the exponential backoff
	DefaultRetryMax = 30 * time.Second
	// DefaultRetryMultiplier is the backoff growth factor
	DefaultRetryMultiplier = 2.0
	// DefaultMaxRetries is the number of attempts before an event is dropped
	DefaultMaxRetries = 50
)

var errWorkerStopped = errors.New("worker stopped")

// WorkerConfig configures a sink worker
type WorkerConfig struct {
	Name            string // Sink name, also the cursor name
	Log             *ChangeLog
	Sink            Sink
	Transformer     Transformer
	Filter          Filter
	TopicPrefix     string // Topic is "{prefix}.{post_type}"
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int
}

// Worker delivers events from the change log to one sink, in sequence order
type Worker struct {
	config      WorkerConfig
	cursor      uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates config, applies defaults and loads the sink's cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.Name == "":
		return nil, fmt.Errorf("worker name is required")
	case config.Log == nil:
		return nil, fmt.Errorf("change log is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case config.Transformer == nil:
		return nil, fmt.Errorf("transformer is required")
	}

	if config.Filter == nil {
		config.Filter = &GlobFilter{}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.Cursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}

	return &Worker{
		config: config,
		cursor: cursor,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the poll loop; calling it twice is a no-op
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.cursor).Msg("Starting change publisher")
	go w.pollLoop()
}

// Stop signals the poll loop and waits for it to exit
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)

	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.cursor).Msg("Change publisher stopped")
}

// Cursor returns the last event sequence handled by the worker
func (w *Worker) Cursor() uint64 {
	return atomic.LoadUint64(&w.cursor)
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	lag := telemetry.PublisherLag.With(w.config.Name)
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events, err := w.config.Log.ReadFrom(w.Cursor(), w.config.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("sink", w.config.Name).Msg("Failed to read change log")
			w.sleep(w.config.PollInterval)
			continue
		}

		lag.Set(float64(w.config.Log.LastSeq() - w.Cursor()))
		if len(events) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for _, ev := range events {
			if err := w.process(ev); errors.Is(err, errWorkerStopped) {
				return
			}
			atomic.StoreUint64(&w.cursor, ev.SeqNum)
		}
	}
}

// process delivers one event at least once. Filtered and undeliverable events
// still advance the cursor.
func (w *Worker) process(ev ChangeEvent) error {
	if w.config.Filter.Match(ev.MetaKey, ev.PostType) {
		result := "ok"
		if err := w.deliver(ev); err != nil {
			if errors.Is(err, errWorkerStopped) {
				return err
			}
			result = "dropped"
			log.Error().Err(err).
				Str("sink", w.config.Name).
				Uint64("seq", ev.SeqNum).
				Uint64("post_id", ev.PostID).
				Str("meta_key", ev.MetaKey).
				Msg("Dropping change event")
		}
		telemetry.PublishedEventsTotal.With(w.config.Name, result).Inc()
	} else {
		telemetry.PublishedEventsTotal.With(w.config.Name, "filtered").Inc()
	}

	if err := w.config.Log.AdvanceCursor(w.config.Name, ev.SeqNum); err != nil {
		log.Warn().Err(err).Str("sink", w.config.Name).Uint64("seq", ev.SeqNum).
			Msg("Failed to persist cursor, event may be redelivered")
	}
	return nil
}

func (w *Worker) deliver(ev ChangeEvent) error {
	data, err := w.config.Transformer.Transform(ev)
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	return w.publishWithRetry(w.topic(ev), ev.Key(), data)
}

func (w *Worker) topic(ev ChangeEvent) string {
	postType := ev.PostType
	if postType == "" {
		postType = "unknown"
	}
	if w.config.TopicPrefix == "" {
		return postType
	}
	return w.config.TopicPrefix + "." + postType
}

func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	for attempt := 1; ; attempt++ {
		err := w.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}
		if attempt >= w.config.MaxRetries {
			return fmt.Errorf("publish to %s failed after %d attempts: %w", topic, attempt, err)
		}

		log.Warn().Err(err).
			Str("sink", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempt).
			Dur("retry_delay", delay).
			Msg("Publish failed, retrying")

		if !w.sleep(delay) {
			return errWorkerStopped
		}
		delay = min(time.Duration(float64(delay)*w.config.RetryMultiplier), w.config.RetryMax)
	}
}

// sleep returns false when the worker was stopped before d elapsed
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
