package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wpmeta/wpmeta/cfg"
)

// DefaultFormat is used by sinks that do not name a payload format
const DefaultFormat = "debezium"

// RegistryConfig configures the change publisher
type RegistryConfig struct {
	DataDir string
	Sinks   []cfg.SinkConfiguration
}

// Registry owns the change log and one worker per configured sink
type Registry struct {
	log     *ChangeLog
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry opens the change log and builds a worker for every sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	changeLog, err := OpenChangeLog(config.DataDir)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		log:     changeLog,
		workers: make([]*Worker, 0, len(config.Sinks)),
	}

	for _, sc := range config.Sinks {
		if err := r.AddSink(sc); err != nil {
			r.closeSinks()
			changeLog.Close()
			return nil, fmt.Errorf("sink %q: %w", sc.Name, err)
		}
	}

	log.Info().Int("sinks", len(r.workers)).Msg("Change publisher initialized")
	return r, nil
}

// AddSink builds the sink, transformer and filter for config and registers a worker
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	format := config.Format
	if format == "" {
		format = DefaultFormat
	}
	trans, err := createTransformer(format)
	if err != nil {
		return err
	}

	filter, err := NewGlobFilter(config.FilterMetaKeys, config.FilterPostTypes)
	if err != nil {
		return err
	}

	snk, err := createSink(config)
	if err != nil {
		return err
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return err
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().Str("sink", config.Name).Str("type", config.Type).Str("format", format).Msg("Added change sink")
	return nil
}

// Start starts every worker
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("change publisher already running")
	}
	for _, w := range r.workers {
		w.Start()
	}
	r.running.Store(true)
	return nil
}

// Stop stops the workers, closes the sinks and the change log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workers {
		w.Stop()
	}
	r.running.Store(false)
	r.closeSinks()

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close change log")
	}
}

// Publish appends one committed change to the log; workers deliver it asynchronously
func (r *Registry) Publish(ev ChangeEvent) error {
	return r.log.Append([]ChangeEvent{ev})
}

func (r *Registry) closeSinks() {
	for _, w := range r.workers {
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Msg("Failed to close sink")
		}
	}
}

// SinkFactory builds a Sink from its configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory builds a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a sink type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a payload format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, ok := transformerFactories[format]
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
