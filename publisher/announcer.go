package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/telemetry"
)

const (
	// Default releases read from the ledger per batch
	DefaultBatchSize = 100
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 200 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 5 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Attempts per message before the drain gives up until the next run
	DefaultMaxRetries = 5
	// Topic prefix when none is configured
	DefaultTopicPrefix = "fontpub.releases"
)

// AnnouncerConfig configures delivery of ledger releases to one sink
type AnnouncerConfig struct {
	Name            string      // Sink name (for cursor tracking)
	Ledger          *Ledger     // Ledger to read from
	Sink            Sink        // Destination sink
	Transformer     Transformer // Release encoder
	TopicPrefix     string      // Topic prefix (e.g., "fontpub.releases")
	BatchSize       int         // Releases per ledger read
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int
}

// Announcer delivers releases a sink has not yet acknowledged. Delivery is
// at-least-once: the cursor advances only after the sink accepted the
// message, so a crash between the two redelivers on the next run.
type Announcer struct {
	config AnnouncerConfig
}

// NewAnnouncer validates config and applies defaults
func NewAnnouncer(config AnnouncerConfig) (*Announcer, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("announcer name is required")
	}
	if config.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}

	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultTopicPrefix
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	return &Announcer{config: config}, nil
}

// Name returns the sink name
func (a *Announcer) Name() string {
	return a.config.Name
}

// Drain publishes every release after the sink's cursor. It stops at the
// first release that cannot be delivered and returns how many were
// delivered before it.
func (a *Announcer) Drain(ctx context.Context) (int, error) {
	cursor, err := a.config.Ledger.GetCursor(a.config.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}

	delivered := 0
	for {
		releases, err := a.config.Ledger.ReadFrom(cursor, a.config.BatchSize)
		if err != nil {
			return delivered, fmt.Errorf("failed to read ledger: %w", err)
		}
		if len(releases) == 0 {
			return delivered, nil
		}

		for _, rel := range releases {
			if err := a.announce(ctx, rel); err != nil {
				telemetry.AnnouncementsTotal.With(a.config.Name, "failed").Inc()
				return delivered, err
			}
			telemetry.AnnouncementsTotal.With(a.config.Name, "success").Inc()
			delivered++
			cursor = rel.Seq

			if err := a.config.Ledger.AdvanceCursor(a.config.Name, rel.Seq); err != nil {
				log.Warn().
					Err(err).
					Str("sink", a.config.Name).
					Uint64("seq", rel.Seq).
					Msg("Failed to advance cursor after successful publish - release may be redelivered")
			}
		}
	}
}

func (a *Announcer) announce(ctx context.Context, rel Release) error {
	data, err := a.config.Transformer.Transform(rel)
	if err != nil {
		return fmt.Errorf("failed to transform release %d: %w", rel.Seq, err)
	}
	return a.publishWithRetry(ctx, a.Topic(rel.Family), rel.ArtifactKey, data)
}

// Topic returns the topic a family's releases are published on
func (a *Announcer) Topic(family string) string {
	return a.config.TopicPrefix + "." + topicSegment(family)
}

// topicSegment maps a family name to characters valid in both NATS subjects
// and Kafka topics
func topicSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// publishWithRetry publishes data with exponential backoff retry
func (a *Announcer) publishWithRetry(ctx context.Context, topic, key string, data []byte) error {
	delay := a.config.RetryInitial
	attempts := 0

	for {
		err := a.config.Sink.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= a.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", a.config.MaxRetries, topic, err)
		}

		log.Warn().
			Err(err).
			Str("sink", a.config.Name).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to announce release, retrying")

		if !sleep(ctx, delay) {
			return fmt.Errorf("announce to %s interrupted: %w", topic, ctx.Err())
		}

		delay = time.Duration(float64(delay) * a.config.RetryMultiplier)
		if delay > a.config.RetryMax {
			delay = a.config.RetryMax
		}
	}
}

// sleep waits for d or until ctx is done. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
