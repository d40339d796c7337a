package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/viralforge/affiliate-ledger/internal/contracts"
	"github.com/viralforge/affiliate-ledger/internal/domain"
)

// LoggingPublisher writes ledger events to the structured log when no
// brokers are configured. It applies the same acceptance rules as the Kafka
// publisher, so the outbox behaves identically in both modes.
type LoggingPublisher struct {
	logger *slog.Logger
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger}
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedEventType, eventType)
	}
	var env contracts.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: outbox payload is not an envelope", domain.ErrInvalidEnvelope)
	}
	p.logger.InfoContext(ctx, "ledger event emitted",
		"module", "events.publisher",
		"layer", "adapter",
		"operation", "publish",
		"outcome", "logged",
		"event_type", eventType,
		"event_id", env.EventID,
		"trace_id", env.TraceID,
		"affiliate_id", partitionKey,
		"data", string(env.Data),
	)
	return nil
}
