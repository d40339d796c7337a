package application

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/affiliate-ledger/internal/domain"
	"github.com/viralforge/affiliate-ledger/internal/ports"
)

type Config struct {
	ServiceName        string
	Currency           string
	CommissionRate     decimal.Decimal
	PayoutThreshold    domain.Money
	PayoutBatchSize    int
	PayoutConcurrency  int
	PayoutLockTTL      time.Duration
	ReconcileBatchSize int
}

type RecordEarningInput struct {
	AffiliateID    string
	GrossAmount    domain.Money
	Currency       string
	Source         domain.Source
	Reference      string
	CommissionRate decimal.Decimal
	TraceID        string
}

type RecordEarningResult struct {
	Earning   domain.Earning
	Duplicate bool
}

// PaymentEvent is a confirmed provider payment as seen by the intake adapters.
type PaymentEvent struct {
	Source      domain.Source
	Reference   string
	AffiliateID string
	GrossAmount domain.Money
	Currency    string
	TraceID     string
}

type PaymentEventResult struct {
	RecordEarningResult
	Ignored bool
}

type UnpaidTotal struct {
	AffiliateID string
	Total       domain.Money
	EarningIDs  []string
}

type PaidAffiliate struct {
	AffiliateID string
	PayoutID    string
	Amount      domain.Money
}

type FailedAffiliate struct {
	AffiliateID string
	Code        string
	Reason      string
}

type PayoutRunReport struct {
	RunID          string
	Threshold      domain.Money
	Paid           []PaidAffiliate
	BelowThreshold []string
	Failed         []FailedAffiliate
	Aborted        bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

type Statement struct {
	AffiliateID string
	TotalEarned domain.Money
	Unpaid      domain.Money
	PaidOut     domain.Money
	Balanced    bool
	Earnings    []domain.Earning
	Payouts     []domain.Payout
}

type PayoutDiscrepancy struct {
	PayoutID          string
	AffiliateID       string
	Applied           bool
	UnpaidEarningIDs  []string
	ForeignEarningIDs []string
	MissingEarningIDs []string
}

func (d PayoutDiscrepancy) Consistent() bool {
	return len(d.UnpaidEarningIDs) == 0 && len(d.ForeignEarningIDs) == 0 && len(d.MissingEarningIDs) == 0
}

type ReconciliationReport struct {
	Scanned       int
	Discrepancies []PayoutDiscrepancy
}

type RepairResult struct {
	Payout       domain.Payout
	MarkedPaid   int
	AlreadyFixed bool
}

type Service struct {
	cfg Config

	affiliates ports.AffiliateRepository
	earnings   ports.EarningRepository
	payouts    ports.PayoutRepository
	outbox     ports.OutboxRepository
	locker     ports.Locker

	logger *slog.Logger
	nowFn  func() time.Time
}

type Dependencies struct {
	Config Config

	Affiliates ports.AffiliateRepository
	Earnings   ports.EarningRepository
	Payouts    ports.PayoutRepository
	Outbox     ports.OutboxRepository
	Locker     ports.Locker

	Logger *slog.Logger
}
