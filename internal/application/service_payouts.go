package application

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/viralforge/affiliate-ledger/internal/domain"
	"golang.org/x/sync/errgroup"
)

type outcomeKind int

const (
	outcomeSkipped outcomeKind = iota
	outcomePaid
	outcomeBelowThreshold
	outcomeFailed
)

type affiliateOutcome struct {
	kind        outcomeKind
	affiliateID string
	payout      domain.Payout
	err         error
}

// RunPayouts pays every affiliate whose unpaid total reaches threshold.
// Affiliates are independent: one failing is recorded in the report and the
// run continues. Cancelling ctx stops the run at the next affiliate
// boundary and returns the partial report with ctx.Err().
func (s *Service) RunPayouts(ctx context.Context, threshold domain.Money) (PayoutRunReport, error) {
	if threshold <= 0 {
		return PayoutRunReport{}, fmt.Errorf("%w: threshold must be positive", domain.ErrInvalidInput)
	}
	report := PayoutRunReport{
		RunID:          "run_" + uuid.NewString(),
		Threshold:      threshold,
		Paid:           []PaidAffiliate{},
		BelowThreshold: []string{},
		Failed:         []FailedAffiliate{},
		StartedAt:      s.nowFn(),
	}

	var runErr error
	after := ""
	for {
		if ctx.Err() != nil {
			report.Aborted = true
			runErr = ctx.Err()
			break
		}
		page, err := s.affiliates.ListPage(ctx, after, s.cfg.PayoutBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				report.Aborted = true
				runErr = ctx.Err()
				break
			}
			report.Aborted = true
			runErr = fmt.Errorf("list affiliates: %w", err)
			break
		}
		if len(page) == 0 {
			break
		}
		for _, out := range s.processPage(ctx, report.RunID, page, threshold) {
			switch out.kind {
			case outcomePaid:
				report.Paid = append(report.Paid, PaidAffiliate{AffiliateID: out.affiliateID, PayoutID: out.payout.PayoutID, Amount: out.payout.Amount})
			case outcomeBelowThreshold:
				report.BelowThreshold = append(report.BelowThreshold, out.affiliateID)
			case outcomeFailed:
				report.Failed = append(report.Failed, FailedAffiliate{AffiliateID: out.affiliateID, Code: failureCode(out.err), Reason: out.err.Error()})
			case outcomeSkipped:
				report.Aborted = true
			}
		}
		if len(page) < s.cfg.PayoutBatchSize {
			break
		}
		after = page[len(page)-1].AffiliateID
	}
	if report.Aborted && runErr == nil {
		runErr = ctx.Err()
	}
	report.FinishedAt = s.nowFn()

	sort.Slice(report.Paid, func(i, j int) bool { return report.Paid[i].AffiliateID < report.Paid[j].AffiliateID })
	sort.Strings(report.BelowThreshold)
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].AffiliateID < report.Failed[j].AffiliateID })

	s.logger.InfoContext(ctx, "payout run finished",
		"module", "application.payout_engine",
		"layer", "application",
		"operation", "run_payouts",
		"outcome", runOutcome(report),
		"run_id", report.RunID,
		"threshold_minor", int64(threshold),
		"paid", len(report.Paid),
		"below_threshold", len(report.BelowThreshold),
		"failed", len(report.Failed),
		"aborted", report.Aborted,
	)
	return report, runErr
}

func runOutcome(report PayoutRunReport) string {
	switch {
	case report.Aborted:
		return "aborted"
	case len(report.Failed) > 0:
		return "partial"
	default:
		return "success"
	}
}

func (s *Service) processPage(ctx context.Context, runID string, page []domain.Affiliate, threshold domain.Money) []affiliateOutcome {
	outcomes := make([]affiliateOutcome, len(page))
	var g errgroup.Group
	g.SetLimit(s.cfg.PayoutConcurrency)
	for i, aff := range page {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcomes[i] = s.payoutAffiliate(ctx, runID, aff.AffiliateID, threshold)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// payoutAffiliate runs the whole commit for one affiliate. Once started the
// commit ignores cancellation so an abort never lands mid-affiliate.
func (s *Service) payoutAffiliate(ctx context.Context, runID, affiliateID string, threshold domain.Money) affiliateOutcome {
	if ctx.Err() != nil {
		return affiliateOutcome{kind: outcomeSkipped, affiliateID: affiliateID}
	}
	var out affiliateOutcome
	err := s.withAffiliateLock(context.WithoutCancel(ctx), affiliateID, func(ctx context.Context) error {
		var settleErr error
		out, settleErr = s.settleAffiliate(ctx, runID, affiliateID, threshold)
		return settleErr
	})
	if err != nil {
		s.logger.WarnContext(ctx, "affiliate payout failed",
			"module", "application.payout_engine",
			"layer", "application",
			"operation", "settle_affiliate",
			"outcome", "failure",
			"run_id", runID,
			"affiliate_id", affiliateID,
			"error", err,
		)
		return affiliateOutcome{kind: outcomeFailed, affiliateID: affiliateID, err: err}
	}
	return out
}

// settleAffiliate reads the latest payout sequence before the unpaid total.
// The payout insert is keyed on (affiliate_id, sequence), so any payout
// committed after that read makes the insert conflict instead of paying the
// same earnings twice.
func (s *Service) settleAffiliate(ctx context.Context, runID, affiliateID string, threshold domain.Money) (affiliateOutcome, error) {
	seq, err := s.payouts.LatestSequence(ctx, affiliateID)
	if err != nil {
		return affiliateOutcome{}, fmt.Errorf("latest payout sequence: %w", err)
	}
	unapplied, err := s.payouts.ListUnappliedByAffiliateID(ctx, affiliateID)
	if err != nil {
		return affiliateOutcome{}, fmt.Errorf("list unapplied payouts: %w", err)
	}
	if len(unapplied) > 0 {
		return affiliateOutcome{}, fmt.Errorf("%w: payout %s is not fully applied", domain.ErrPayoutInconsistency, unapplied[0].PayoutID)
	}
	unpaid, err := s.UnpaidTotal(ctx, affiliateID)
	if err != nil {
		return affiliateOutcome{}, err
	}
	if unpaid.Total < threshold || len(unpaid.EarningIDs) == 0 {
		return affiliateOutcome{kind: outcomeBelowThreshold, affiliateID: affiliateID}, nil
	}

	payout := domain.Payout{
		PayoutID:    "payout_" + uuid.NewString(),
		AffiliateID: affiliateID,
		Sequence:    seq + 1,
		Amount:      unpaid.Total,
		Currency:    s.cfg.Currency,
		Status:      domain.PayoutStatusPending,
		EarningIDs:  unpaid.EarningIDs,
		RunID:       runID,
		CreatedAt:   s.nowFn(),
	}
	if err := s.payouts.Create(ctx, payout); err != nil {
		return affiliateOutcome{}, fmt.Errorf("create payout: %w", err)
	}
	if _, err := s.applyPayout(ctx, &payout); err != nil {
		return affiliateOutcome{}, err
	}
	s.announcePayout(ctx, payout, "settle_affiliate")
	s.logger.InfoContext(ctx, "affiliate paid",
		"module", "application.payout_engine",
		"layer", "application",
		"operation", "settle_affiliate",
		"outcome", "success",
		"run_id", runID,
		"affiliate_id", affiliateID,
		"payout_id", payout.PayoutID,
		"amount_minor", int64(payout.Amount),
		"earnings", len(payout.EarningIDs),
	)
	return affiliateOutcome{kind: outcomePaid, affiliateID: affiliateID, payout: payout}, nil
}

// applyPayout marks the payout's earnings paid, verifies every one now
// belongs to it and then stamps the payout applied. It is safe to repeat.
func (s *Service) applyPayout(ctx context.Context, payout *domain.Payout) (int, error) {
	now := s.nowFn()
	marked, err := s.earnings.MarkPaid(ctx, payout.EarningIDs, payout.PayoutID, now)
	if err != nil {
		return 0, fmt.Errorf("mark earnings paid: %w", err)
	}
	rows, err := s.earnings.GetByIDs(ctx, payout.EarningIDs)
	if err != nil {
		return marked, fmt.Errorf("reload settled earnings: %w", err)
	}
	if d := inspectPayout(*payout, rows); !d.Consistent() {
		return marked, fmt.Errorf("%w: payout %s has %d unpaid, %d foreign, %d missing earnings",
			domain.ErrPayoutInconsistency, payout.PayoutID, len(d.UnpaidEarningIDs), len(d.ForeignEarningIDs), len(d.MissingEarningIDs))
	}
	if !payout.Applied() {
		if err := s.payouts.MarkApplied(ctx, payout.PayoutID, now); err != nil {
			return marked, fmt.Errorf("mark payout applied: %w", err)
		}
		payout.AppliedAt = &now
	}
	return marked, nil
}
