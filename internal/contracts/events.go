package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type AffiliateEarningRecordedPayload struct {
	AffiliateID string `json:"affiliate_id"`
	EarningID   string `json:"earning_id"`
	Source      string `json:"source"`
	Reference   string `json:"reference"`
	AmountMinor int64  `json:"amount_minor"`
	GrossMinor  int64  `json:"gross_minor"`
	Currency    string `json:"currency"`
	RecordedAt  string `json:"recorded_at"`
}

type AffiliatePayoutCreatedPayload struct {
	AffiliateID string   `json:"affiliate_id"`
	PayoutID    string   `json:"payout_id"`
	Sequence    int64    `json:"sequence"`
	AmountMinor int64    `json:"amount_minor"`
	Currency    string   `json:"currency"`
	Status      string   `json:"status"`
	EarningIDs  []string `json:"earning_ids"`
	RunID       string   `json:"run_id"`
	CreatedAt   string   `json:"created_at"`
}

// PaymentConfirmedPayload is the data of a payment.confirmed envelope
// emitted by the billing side once a provider settles a charge.
type PaymentConfirmedPayload struct {
	Provider         string `json:"provider"`
	Reference        string `json:"reference"`
	AffiliateID      string `json:"affiliate_id"`
	GrossAmountMinor int64  `json:"gross_amount_minor"`
	Currency         string `json:"currency"`
}
