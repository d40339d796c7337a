package postgres

import (
	"time"

	"github.com/lib/pq"
)

type affiliateModel struct {
	AffiliateID string    `gorm:"column:affiliate_id;primaryKey"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (affiliateModel) TableName() string { return "affiliates" }

type earningModel struct {
	EarningID   string     `gorm:"column:earning_id;primaryKey"`
	AffiliateID string     `gorm:"column:affiliate_id"`
	AmountMinor int64      `gorm:"column:amount_minor"`
	GrossMinor  int64      `gorm:"column:gross_minor"`
	Currency    string     `gorm:"column:currency"`
	Source      string     `gorm:"column:source"`
	Reference   string     `gorm:"column:reference"`
	Paid        bool       `gorm:"column:paid"`
	PayoutID    *string    `gorm:"column:payout_id"`
	PaidAt      *time.Time `gorm:"column:paid_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (earningModel) TableName() string { return "affiliate_earnings" }

type payoutModel struct {
	PayoutID    string         `gorm:"column:payout_id;primaryKey"`
	AffiliateID string         `gorm:"column:affiliate_id"`
	Sequence    int64          `gorm:"column:sequence"`
	AmountMinor int64          `gorm:"column:amount_minor"`
	Currency    string         `gorm:"column:currency"`
	Status      string         `gorm:"column:status"`
	EarningIDs  pq.StringArray `gorm:"column:earning_ids;type:text[]"`
	RunID       string         `gorm:"column:run_id"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
	AppliedAt   *time.Time     `gorm:"column:applied_at"`
}

func (payoutModel) TableName() string { return "affiliate_payouts" }

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      string     `gorm:"column:payload"`
	RetryCount   int        `gorm:"column:retry_count"`
	LastError    string     `gorm:"column:last_error"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string { return "ledger_outbox" }
