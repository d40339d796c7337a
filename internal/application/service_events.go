package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/affiliate-ledger/internal/contracts"
	"github.com/viralforge/affiliate-ledger/internal/domain"
	"github.com/viralforge/affiliate-ledger/internal/ports"
)

// HandleCanonicalEvent consumes an inbound broker envelope.
func (s *Service) HandleCanonicalEvent(ctx context.Context, envelope contracts.EventEnvelope) (PaymentEventResult, error) {
	if err := validateEnvelope(envelope); err != nil {
		return PaymentEventResult{}, err
	}
	if !domain.IsCanonicalInputEvent(envelope.EventType) {
		return PaymentEventResult{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedEventType, envelope.EventType)
	}
	var payload contracts.PaymentConfirmedPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return PaymentEventResult{}, fmt.Errorf("%w: decode payment payload", domain.ErrInvalidEnvelope)
	}
	return s.RecordPaymentEvent(ctx, PaymentEvent{
		Source:      domain.Source(strings.ToLower(strings.TrimSpace(payload.Provider))),
		Reference:   payload.Reference,
		AffiliateID: payload.AffiliateID,
		GrossAmount: domain.Money(payload.GrossAmountMinor),
		Currency:    payload.Currency,
		TraceID:     envelope.TraceID,
	})
}

// eventID is stable per (event type, entity) so a re-enqueue of the same
// fact collides on the outbox key instead of publishing twice.
func eventID(eventType, entityID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(eventType+"/"+entityID)).String()
}

// enqueueEvent writes one envelope to the outbox. An envelope that is
// already there counts as enqueued.
func (s *Service) enqueueEvent(ctx context.Context, eventType, entityID, traceID string, data any, affiliateID string, now time.Time) error {
	if s.outbox == nil {
		return nil
	}
	if !domain.IsCanonicalEmittedEvent(eventType) {
		return domain.ErrUnsupportedEventType
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encode event payload", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(traceID) == "" {
		traceID = uuid.NewString()
	}
	env := contracts.EventEnvelope{
		EventID:          eventID(eventType, entityID),
		EventType:        eventType,
		OccurredAt:       now,
		PartitionKeyPath: domain.CanonicalPartitionKeyPath(eventType),
		PartitionKey:     affiliateID,
		SourceService:    s.cfg.ServiceName,
		TraceID:          traceID,
		SchemaVersion:    "v1",
		Data:             b,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: encode envelope", domain.ErrInvalidInput)
	}
	err = s.outbox.Enqueue(ctx, ports.OutboxRecord{
		OutboxID:     env.EventID,
		EventType:    eventType,
		PartitionKey: affiliateID,
		Payload:      raw,
		CreatedAt:    now,
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil
	}
	return err
}

func (s *Service) enqueueEarningRecorded(ctx context.Context, e domain.Earning, traceID string) error {
	return s.enqueueEvent(ctx, domain.EventAffiliateEarningRecorded, e.EarningID, traceID, contracts.AffiliateEarningRecordedPayload{
		AffiliateID: e.AffiliateID,
		EarningID:   e.EarningID,
		Source:      string(e.Source),
		Reference:   e.Reference,
		AmountMinor: int64(e.Amount),
		GrossMinor:  int64(e.Gross),
		Currency:    e.Currency,
		RecordedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}, e.AffiliateID, e.CreatedAt)
}

func (s *Service) enqueuePayoutCreated(ctx context.Context, p domain.Payout) error {
	return s.enqueueEvent(ctx, domain.EventAffiliatePayoutCreated, p.PayoutID, p.RunID, contracts.AffiliatePayoutCreatedPayload{
		AffiliateID: p.AffiliateID,
		PayoutID:    p.PayoutID,
		Sequence:    p.Sequence,
		AmountMinor: int64(p.Amount),
		Currency:    p.Currency,
		Status:      string(p.Status),
		EarningIDs:  p.EarningIDs,
		RunID:       p.RunID,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
	}, p.AffiliateID, p.CreatedAt)
}

// announceEarning enqueues the recorded event for e. A failed enqueue is
// logged and left to the next delivery of the same reference.
func (s *Service) announceEarning(ctx context.Context, e domain.Earning, traceID string) {
	if err := s.enqueueEarningRecorded(ctx, e, traceID); err != nil {
		s.logger.WarnContext(ctx, "earning event not enqueued",
			"module", "application.earning_recorder",
			"layer", "application",
			"operation", "enqueue_event",
			"outcome", "failure",
			"earning_id", e.EarningID,
			"error", err,
		)
	}
}

func (s *Service) announcePayout(ctx context.Context, p domain.Payout, operation string) {
	if err := s.enqueuePayoutCreated(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "payout event not enqueued",
			"module", "application.payout_engine",
			"layer", "application",
			"operation", operation,
			"outcome", "failure",
			"payout_id", p.PayoutID,
			"error", err,
		)
	}
}

func validateEnvelope(event contracts.EventEnvelope) error {
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" || event.OccurredAt.IsZero() {
		return domain.ErrInvalidEnvelope
	}
	if strings.TrimSpace(event.SourceService) == "" || strings.TrimSpace(event.SchemaVersion) == "" {
		return domain.ErrInvalidEnvelope
	}
	if len(event.Data) == 0 {
		return domain.ErrInvalidEnvelope
	}
	return nil
}
