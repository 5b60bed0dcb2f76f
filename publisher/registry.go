package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/cfg"
)

// RegistryConfig configures the release ledger and its announcement sinks
type RegistryConfig struct {
	LedgerDir   string
	SinkConfigs []cfg.SinkConfiguration
}

// Registry owns the release ledger and one announcer per configured sink
type Registry struct {
	ledger     *Ledger
	announcers []*Announcer
	sinks      []Sink
	mu         sync.Mutex
}

// AnnounceResult reports delivery to one sink
type AnnounceResult struct {
	Sink      string
	Delivered int
	Err       error
}

// NewRegistry opens the ledger and creates an announcer for each sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.LedgerDir == "" {
		return nil, fmt.Errorf("ledger directory is required")
	}

	ledger, err := OpenLedger(config.LedgerDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	registry := &Registry{
		ledger:     ledger,
		announcers: make([]*Announcer, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			registry.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Debug().
		Int("sinks", len(registry.announcers)).
		Uint64("last_seq", ledger.LastSeq()).
		Msg("Release registry initialized")

	return registry, nil
}

// AddSink creates the sink and transformer named by config and attaches
// an announcer for them
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	format := config.Format
	if format == "" {
		format = "json"
	}
	trans, err := createTransformer(format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	if err := r.Attach(config, snk, trans); err != nil {
		snk.Close()
		return err
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", format).
		Msg("Added announcement sink")
	return nil
}

// Attach adds an announcer for an already constructed sink. The registry
// takes ownership of snk and closes it on Close.
func (r *Registry) Attach(config cfg.SinkConfiguration, snk Sink, trans Transformer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	announcer, err := NewAnnouncer(AnnouncerConfig{
		Name:            config.Name,
		Ledger:          r.ledger,
		Sink:            snk,
		Transformer:     trans,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxRetries,
	})
	if err != nil {
		return fmt.Errorf("failed to create announcer: %w", err)
	}

	r.announcers = append(r.announcers, announcer)
	r.sinks = append(r.sinks, snk)
	return nil
}

// Ledger returns the release ledger
func (r *Registry) Ledger() *Ledger {
	return r.ledger
}

// Sinks returns the number of attached announcers
func (r *Registry) Sinks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.announcers)
}

// Record appends releases to the ledger, assigning their sequence numbers
func (r *Registry) Record(releases []Release) error {
	return r.ledger.Append(releases)
}

// Announce drains every sink. A failing sink does not stop the others; its
// undelivered releases stay owed and are retried on the next run.
func (r *Registry) Announce(ctx context.Context) []AnnounceResult {
	r.mu.Lock()
	announcers := append([]*Announcer(nil), r.announcers...)
	r.mu.Unlock()

	results := make([]AnnounceResult, 0, len(announcers))
	for _, a := range announcers {
		n, err := a.Drain(ctx)
		results = append(results, AnnounceResult{Sink: a.Name(), Delivered: n, Err: err})

		if err != nil {
			log.Error().Err(err).Str("sink", a.Name()).Int("delivered", n).Msg("Announcement incomplete")
			continue
		}
		if n > 0 {
			log.Info().Str("sink", a.Name()).Int("delivered", n).Msg("Releases announced")
		}
	}
	return results
}

// Close closes every sink and the ledger
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, snk := range r.sinks {
		if err := snk.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sink")
		}
	}
	r.sinks = nil
	r.announcers = nil

	if err := r.ledger.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close ledger")
	}
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// createTransformer creates a transformer based on the format
func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	return factory(), nil
}
