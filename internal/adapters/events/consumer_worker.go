package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/viralforge/affiliate-ledger/internal/application"
	"github.com/viralforge/affiliate-ledger/internal/contracts"
	"github.com/viralforge/affiliate-ledger/internal/domain"
)

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Payload   []byte

	raw kafka.Message
}

type Consumer interface {
	Poll(ctx context.Context, max int) ([]Message, error)
	Commit(ctx context.Context, msgs []Message) error
}

type EventHandler interface {
	HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) (application.PaymentEventResult, error)
}

type ConsumerWorker struct {
	logger   *slog.Logger
	consumer Consumer
	handler  EventHandler
	interval time.Duration

	retryBase time.Duration
	retryMax  time.Duration
}

func NewConsumerWorker(logger *slog.Logger, consumer Consumer, handler EventHandler, interval time.Duration) *ConsumerWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &ConsumerWorker{
		logger: logger, consumer: consumer, handler: handler, interval: interval,
		retryBase: 500 * time.Millisecond,
		retryMax:  30 * time.Second,
	}
}

func (w *ConsumerWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.ErrorContext(ctx, "consumer iteration failed",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "process_once",
				"outcome", "failure",
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce handles one polled batch in order and commits it. Malformed or
// unsupported messages are logged and committed. A store failure is retried
// on the same message until it succeeds or ctx ends, since a later commit
// would cover its offset. On ctx end only the messages before it are committed.
func (w *ConsumerWorker) ProcessOnce(ctx context.Context) error {
	msgs, err := w.consumer.Poll(ctx, 50)
	if err != nil {
		return err
	}
	for i, msg := range msgs {
		if err := w.handleWithRetry(ctx, msg); err != nil {
			if commitErr := w.consumer.Commit(context.WithoutCancel(ctx), msgs[:i]); commitErr != nil {
				return errors.Join(err, commitErr)
			}
			return err
		}
	}
	return w.consumer.Commit(ctx, msgs)
}

func (w *ConsumerWorker) handleWithRetry(ctx context.Context, msg Message) error {
	var envelope contracts.EventEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		w.logger.WarnContext(ctx, "dropping undecodable event",
			"module", "events.consumer_worker",
			"layer", "adapter",
			"operation", "decode",
			"outcome", "skipped",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	delay := w.retryBase
	for attempt := 1; ; attempt++ {
		res, err := w.handler.HandleCanonicalEvent(ctx, envelope)
		switch {
		case err == nil:
			w.logger.InfoContext(ctx, "payment event handled",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "handle_event",
				"outcome", handledOutcome(res),
				"event_id", envelope.EventID,
				"earning_id", res.Earning.EarningID,
			)
			return nil
		case errors.Is(err, domain.ErrStoreUnavailable):
			w.logger.WarnContext(ctx, "ledger store unavailable, retrying event",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "handle_event",
				"outcome", "retry",
				"event_id", envelope.EventID,
				"offset", msg.Offset,
				"attempt", attempt,
				"retry_in", delay.String(),
				"error", err,
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			if delay *= 2; delay > w.retryMax {
				delay = w.retryMax
			}
		default:
			w.logger.WarnContext(ctx, "payment event rejected",
				"module", "events.consumer_worker",
				"layer", "adapter",
				"operation", "handle_event",
				"outcome", "rejected",
				"event_id", envelope.EventID,
				"event_type", envelope.EventType,
				"error", err,
			)
			return nil
		}
	}
}

func handledOutcome(res application.PaymentEventResult) string {
	switch {
	case res.Ignored:
		return "ignored"
	case res.Duplicate:
		return "duplicate"
	default:
		return "recorded"
	}
}
