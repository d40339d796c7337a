package ports

import (
	"context"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/domain"
)

type AffiliateRepository interface {
	// Ensure creates the affiliate if absent and returns the stored row.
	Ensure(ctx context.Context, affiliateID string, at time.Time) (domain.Affiliate, error)
	GetByID(ctx context.Context, affiliateID string) (domain.Affiliate, error)
	// ListPage returns up to limit affiliates ordered by id, strictly after afterID.
	ListPage(ctx context.Context, afterID string, limit int) ([]domain.Affiliate, error)
}

type EarningRepository interface {
	// Create returns domain.ErrConflict when (source, reference) already exists.
	Create(ctx context.Context, row domain.Earning) error
	GetByReference(ctx context.Context, source domain.Source, reference string) (domain.Earning, error)
	GetByIDs(ctx context.Context, earningIDs []string) ([]domain.Earning, error)
	ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.Earning, error)
	ListUnpaidByAffiliateID(ctx context.Context, affiliateID string) ([]domain.Earning, error)
	// MarkPaid flips only the listed earnings that are still unpaid and
	// returns how many rows changed.
	MarkPaid(ctx context.Context, earningIDs []string, payoutID string, at time.Time) (int, error)
}

type PayoutRepository interface {
	// Create returns domain.ErrConflict when (affiliate_id, sequence) already exists.
	Create(ctx context.Context, row domain.Payout) error
	GetByID(ctx context.Context, payoutID string) (domain.Payout, error)
	LatestSequence(ctx context.Context, affiliateID string) (int64, error)
	ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.Payout, error)
	ListUnappliedByAffiliateID(ctx context.Context, affiliateID string) ([]domain.Payout, error)
	ListPage(ctx context.Context, afterID string, limit int, includeApplied bool) ([]domain.Payout, error)
	MarkApplied(ctx context.Context, payoutID string, at time.Time) error
}

type OutboxRecord struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	LastError    string
	CreatedAt    time.Time
	PublishedAt  *time.Time
	LastErrorAt  *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, record OutboxRecord) error
	FetchUnpublished(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID, errMsg string, at time.Time) error
}
