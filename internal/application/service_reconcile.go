package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viralforge/affiliate-ledger/internal/domain"
)

// Reconcile scans payouts and reports every one whose earnings are not all
// paid by it, or which was never stamped applied. It writes nothing.
func (s *Service) Reconcile(ctx context.Context, includeApplied bool) (ReconciliationReport, error) {
	report := ReconciliationReport{Discrepancies: []PayoutDiscrepancy{}}
	after := ""
	for {
		page, err := s.payouts.ListPage(ctx, after, s.cfg.ReconcileBatchSize, includeApplied)
		if err != nil {
			return report, fmt.Errorf("list payouts: %w", err)
		}
		for _, payout := range page {
			rows, err := s.earnings.GetByIDs(ctx, payout.EarningIDs)
			if err != nil {
				return report, fmt.Errorf("load payout earnings: %w", err)
			}
			report.Scanned++
			d := inspectPayout(payout, rows)
			if !d.Consistent() || !d.Applied {
				report.Discrepancies = append(report.Discrepancies, d)
			}
		}
		if len(page) < s.cfg.ReconcileBatchSize {
			break
		}
		after = page[len(page)-1].PayoutID
	}
	if len(report.Discrepancies) > 0 {
		s.logger.WarnContext(ctx, "payout inconsistencies detected",
			"module", "application.reconciler",
			"layer", "application",
			"operation", "reconcile",
			"outcome", "inconsistent",
			"scanned", report.Scanned,
			"discrepancies", len(report.Discrepancies),
		)
	}
	return report, nil
}

// RepairPayout completes an interrupted payout commit by marking its still
// unpaid earnings and stamping it applied. It never creates a payout, and
// refuses without writing when an earning is missing or settled elsewhere.
func (s *Service) RepairPayout(ctx context.Context, payoutID string) (RepairResult, error) {
	payoutID = strings.TrimSpace(payoutID)
	if payoutID == "" {
		return RepairResult{}, fmt.Errorf("%w: payout_id is required", domain.ErrInvalidInput)
	}
	payout, err := s.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return RepairResult{}, err
	}

	var out RepairResult
	err = s.withAffiliateLock(ctx, payout.AffiliateID, func(ctx context.Context) error {
		current, err := s.payouts.GetByID(ctx, payoutID)
		if err != nil {
			return err
		}
		rows, err := s.earnings.GetByIDs(ctx, current.EarningIDs)
		if err != nil {
			return fmt.Errorf("load payout earnings: %w", err)
		}
		d := inspectPayout(current, rows)
		if len(d.ForeignEarningIDs) > 0 || len(d.MissingEarningIDs) > 0 {
			return fmt.Errorf("%w: payout %s references %d earnings paid elsewhere and %d missing earnings",
				domain.ErrPayoutInconsistency, current.PayoutID, len(d.ForeignEarningIDs), len(d.MissingEarningIDs))
		}
		if d.Consistent() && d.Applied {
			out = RepairResult{Payout: current, AlreadyFixed: true}
			return nil
		}
		wasApplied := current.Applied()
		marked, err := s.applyPayout(ctx, &current)
		if err != nil {
			return err
		}
		if !wasApplied {
			s.announcePayout(ctx, current, "repair_payout")
		}
		out = RepairResult{Payout: current, MarkedPaid: marked}
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.ErrorContext(ctx, "payout repair failed",
				"module", "application.reconciler",
				"layer", "application",
				"operation", "repair_payout",
				"outcome", "failure",
				"payout_id", payoutID,
				"error", err,
			)
		}
		return RepairResult{}, err
	}
	s.logger.InfoContext(ctx, "payout repaired",
		"module", "application.reconciler",
		"layer", "application",
		"operation", "repair_payout",
		"outcome", "success",
		"payout_id", payoutID,
		"marked_paid", out.MarkedPaid,
		"already_fixed", out.AlreadyFixed,
	)
	return out, nil
}

func inspectPayout(payout domain.Payout, rows []domain.Earning) PayoutDiscrepancy {
	d := PayoutDiscrepancy{PayoutID: payout.PayoutID, AffiliateID: payout.AffiliateID, Applied: payout.Applied()}
	byID := make(map[string]domain.Earning, len(rows))
	for _, row := range rows {
		byID[row.EarningID] = row
	}
	for _, id := range payout.EarningIDs {
		row, ok := byID[id]
		switch {
		case !ok:
			d.MissingEarningIDs = append(d.MissingEarningIDs, id)
		case !row.Paid:
			d.UnpaidEarningIDs = append(d.UnpaidEarningIDs, id)
		case row.PayoutID != payout.PayoutID:
			d.ForeignEarningIDs = append(d.ForeignEarningIDs, id)
		}
	}
	return d
}
