package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/viralforge/affiliate-ledger/internal/domain"
)

// KafkaPublisher writes ledger events to one topic per event type. Messages
// are keyed by affiliate so one affiliate's earnings and payouts stay
// ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	topics map[string]string
}

// NewKafkaPublisher requires a non-empty topic for every event the ledger
// emits, so a misconfigured deployment fails at start instead of at the
// first payout.
func NewKafkaPublisher(brokers []string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	topics := make(map[string]string, len(topicByEvent))
	for _, eventType := range domain.EmittedEvents() {
		topic := strings.TrimSpace(topicByEvent[eventType])
		if topic == "" {
			return nil, fmt.Errorf("kafka publisher: no topic configured for %s", eventType)
		}
		topics[eventType] = topic
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			// The outbox worker publishes one record at a time and marks it
			// published on return, so batching only adds latency.
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			MaxAttempts:  3,
			Compression:  kafka.Snappy,
		},
		topics: topics,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	topic, ok := p.topics[eventType]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedEventType, eventType)
	}
	if strings.TrimSpace(partitionKey) == "" {
		return fmt.Errorf("%w: %s event without affiliate key", domain.ErrInvalidEnvelope, eventType)
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", eventType, topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
