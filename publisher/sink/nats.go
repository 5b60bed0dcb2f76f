package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/publisher"
)

const (
	// Release announcements are kept long enough for slow consumers to
	// catch up after a deploy
	natsStreamMaxAge  = 30 * 24 * time.Hour
	natsPublishTimout = 5 * time.Second
)

var _ publisher.Sink = (*NatsSink)(nil)

func init() {
	publisher.RegisterSink("nats", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		prefix := config.TopicPrefix
		if prefix == "" {
			prefix = publisher.DefaultTopicPrefix
		}
		return NewNatsSink(config.NatsURL, prefix)
	})
}

// NatsSink implements the Sink interface for NATS JetStream publishing. All
// subjects under the topic prefix share one stream.
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	subject string

	ensureMu sync.Mutex
	ensured  bool
}

// NewNatsSink creates a new NATS JetStream sink publishing below prefix
func NewNatsSink(url, prefix string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("fontpub"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{
		nc:      nc,
		js:      js,
		stream:  sanitizeStreamName(prefix),
		subject: prefix + ".>",
	}, nil
}

// Publish sends a message to NATS JetStream
// topic: JetStream subject (e.g., "fontpub.releases.Dymon")
// key: Artifact key, used as the message ID so redeliveries are deduplicated
// value: Message payload
func (n *NatsSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), natsPublishTimout)
	defer cancel()

	if err := n.ensureStream(ctx); err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{"key": []string{key}},
	}

	if _, err := n.js.PublishMsg(ctx, msg, jetstream.WithMsgID(key)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NatsSink) ensureStream(ctx context.Context) error {
	n.ensureMu.Lock()
	defer n.ensureMu.Unlock()

	if n.ensured {
		return nil
	}

	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      n.stream,
		Subjects:  []string{n.subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    natsStreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", n.stream, err)
	}
	n.ensured = true
	return nil
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName converts a topic to a valid JetStream stream name.
// Stream names can't contain ".", "*", ">" or whitespace.
func sanitizeStreamName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '/', '\\':
			return '_'
		}
		return r
	}, topic)
}
