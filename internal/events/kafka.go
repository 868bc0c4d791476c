package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig holds Kafka publisher configuration.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Kafka publishes events as JSON envelopes to one topic.
type Kafka struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// envelope is the wire format of every message.
type envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// NewKafka creates a publisher for config.Topic.
func NewKafka(config KafkaConfig) (*Kafka, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{
		writer: w,
		logger: slog.Default().With("component", "events", "topic", config.Topic),
	}, nil
}

// message encodes e as a Kafka message.
func message(e Event) (kafka.Message, error) {
	value, err := json.Marshal(envelope{Type: e.Type, OccurredAt: e.OccurredAt, Data: e.Data})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling %s event: %w", e.Type, err)
	}
	return kafka.Message{
		Key:     []byte(e.Key),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
		Time:    e.OccurredAt,
	}, nil
}

// Publish writes events synchronously in one call.
func (k *Kafka) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	messages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msg, err := message(e)
		if err != nil {
			return err
		}
		messages = append(messages, msg)
	}

	if err := k.writer.WriteMessages(ctx, messages...); err != nil {
		k.logger.Error("failed to publish events", "count", len(messages), "error", err)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	k.logger.Debug("events published", "count", len(messages))
	return nil
}

// Close flushes pending writes.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
