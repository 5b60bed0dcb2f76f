package sink

import (
	"context"
	"errors"
	"time"

	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/publisher"
	"github.com/segmentio/kafka-go"
)

const (
	kafkaWriteTimeout = 10 * time.Second
	kafkaMaxBatch     = 1 << 20
)

var _ publisher.Sink = (*KafkaSink)(nil)

func init() {
	publisher.RegisterSink("kafka", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return NewKafkaSink(config.Brokers, config.BatchSize)
	})
}

// KafkaSink writes release events to Kafka. Topics are created on first use;
// the record key is the artifact key so every event for one version lands on
// the same partition.
type KafkaSink struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewKafkaSink creates a synchronous writer. Each Publish blocks until all
// in-sync replicas acknowledged, so the ledger cursor only advances past
// durable events.
func NewKafkaSink(brokers []string, batchSize int) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sink requires at least one broker")
	}
	if batchSize <= 0 {
		batchSize = publisher.DefaultBatchSize
	}

	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			BatchSize:              batchSize,
			BatchBytes:             kafkaMaxBatch,
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		timeout: kafkaWriteTimeout,
	}, nil
}

func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "producer", Value: []byte("fontpub")},
		},
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
