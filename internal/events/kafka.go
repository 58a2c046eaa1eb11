package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the event writer.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes each event as a JSON message keyed by the actor, so all
// events of one identity land on the same partition in order.
type KafkaSink struct {
	writer MessageWriter
}

var _ Sink = (*KafkaSink)(nil)

// NewKafkaSink creates a sink writing to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewKafkaSinkWithWriter(w)
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Publish(ctx context.Context, ev models.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Actor),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(ev.Operation)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish of %s event %d failed: %w", ev.Operation, ev.Sequence, err)
	}
	return nil
}

// Close shuts down the Kafka writer
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
