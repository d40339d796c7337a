package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/domain"
)

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "affiliate-ledger"
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.PayoutThreshold <= 0 {
		cfg.PayoutThreshold = 50000
	}
	if cfg.PayoutBatchSize <= 0 {
		cfg.PayoutBatchSize = 100
	}
	if cfg.PayoutConcurrency <= 0 {
		cfg.PayoutConcurrency = 4
	}
	if cfg.PayoutLockTTL <= 0 {
		cfg.PayoutLockTTL = 30 * time.Second
	}
	if cfg.ReconcileBatchSize <= 0 {
		cfg.ReconcileBatchSize = 200
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		affiliates: deps.Affiliates,
		earnings:   deps.Earnings,
		payouts:    deps.Payouts,
		outbox:     deps.Outbox,
		locker:     deps.Locker,
		logger:     logger,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Config() Config { return s.cfg }

// Ready reports whether the ledger store answers reads.
func (s *Service) Ready(ctx context.Context) error {
	if _, err := s.affiliates.ListPage(ctx, "", 1); err != nil {
		return fmt.Errorf("ledger store not ready: %w", err)
	}
	return nil
}

func (s *Service) withAffiliateLock(ctx context.Context, affiliateID string, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	release, err := s.locker.Acquire(ctx, "affiliate-ledger:payout:"+affiliateID, s.cfg.PayoutLockTTL)
	if err != nil {
		return fmt.Errorf("acquire payout lock: %w", err)
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
			s.logger.WarnContext(ctx, "payout lock release failed",
				"module", "application.payout_engine",
				"layer", "application",
				"operation", "release_lock",
				"outcome", "failure",
				"affiliate_id", affiliateID,
				"error", relErr,
			)
		}
	}()
	return fn(ctx)
}

// failureCode classifies a per-affiliate failure for the run report.
func failureCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrPayoutInconsistency):
		return "payout_inconsistency"
	case errors.Is(err, domain.ErrConflict):
		return "concurrent_payout"
	case errors.Is(err, domain.ErrLockHeld):
		return "locked"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal_error"
	}
}
