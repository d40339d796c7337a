package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/affiliate-ledger/internal/domain"
)

// RecordEarning appends one unpaid earning per (source, reference). A repeated
// call returns the stored earning with Duplicate set and writes nothing.
func (s *Service) RecordEarning(ctx context.Context, in RecordEarningInput) (RecordEarningResult, error) {
	in.AffiliateID = strings.TrimSpace(in.AffiliateID)
	in.Reference = strings.TrimSpace(in.Reference)
	in.Source = domain.Source(strings.ToLower(strings.TrimSpace(string(in.Source))))
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = s.cfg.Currency
	}
	if in.AffiliateID == "" {
		return RecordEarningResult{}, fmt.Errorf("%w: affiliate_id is required", domain.ErrInvalidInput)
	}
	if in.Reference == "" {
		return RecordEarningResult{}, fmt.Errorf("%w: reference is required", domain.ErrInvalidInput)
	}
	if !in.Source.Valid() {
		return RecordEarningResult{}, fmt.Errorf("%w: unknown source %q", domain.ErrInvalidInput, in.Source)
	}
	if in.Currency != s.cfg.Currency {
		return RecordEarningResult{}, fmt.Errorf("%w: currency %s, ledger is %s", domain.ErrInvalidInput, in.Currency, s.cfg.Currency)
	}
	amount, err := domain.Commission(in.GrossAmount, in.CommissionRate)
	if err != nil {
		return RecordEarningResult{}, err
	}

	existing, err := s.earnings.GetByReference(ctx, in.Source, in.Reference)
	switch {
	case err == nil:
		s.announceEarning(ctx, existing, in.TraceID)
		return RecordEarningResult{Earning: existing, Duplicate: true}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return RecordEarningResult{}, fmt.Errorf("lookup earning reference: %w", err)
	}

	now := s.nowFn()
	if _, err := s.EnsureAffiliate(ctx, in.AffiliateID); err != nil {
		return RecordEarningResult{}, err
	}
	earning := domain.Earning{
		EarningID:   "earn_" + uuid.NewString(),
		AffiliateID: in.AffiliateID,
		Amount:      amount,
		Gross:       in.GrossAmount,
		Currency:    in.Currency,
		Source:      in.Source,
		Reference:   in.Reference,
		CreatedAt:   now,
	}
	if err := s.earnings.Create(ctx, earning); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return RecordEarningResult{}, fmt.Errorf("create earning: %w", err)
		}
		// Lost a race with a concurrent delivery of the same event.
		existing, getErr := s.earnings.GetByReference(ctx, in.Source, in.Reference)
		if getErr != nil {
			return RecordEarningResult{}, fmt.Errorf("reread earning reference: %w", getErr)
		}
		s.announceEarning(ctx, existing, in.TraceID)
		return RecordEarningResult{Earning: existing, Duplicate: true}, nil
	}
	s.announceEarning(ctx, earning, in.TraceID)
	return RecordEarningResult{Earning: earning}, nil
}

// EnsureAffiliate is the upsert-on-first-write for affiliates that only
// exist as the owner of earnings.
func (s *Service) EnsureAffiliate(ctx context.Context, affiliateID string) (domain.Affiliate, error) {
	affiliateID = strings.TrimSpace(affiliateID)
	if affiliateID == "" {
		return domain.Affiliate{}, fmt.Errorf("%w: affiliate_id is required", domain.ErrInvalidInput)
	}
	aff, err := s.affiliates.Ensure(ctx, affiliateID, s.nowFn())
	if err != nil {
		return domain.Affiliate{}, fmt.Errorf("ensure affiliate: %w", err)
	}
	return aff, nil
}

// RecordPaymentEvent records the commission for a confirmed provider payment
// at the configured rate. Payments without an affiliate or amount are ignored.
func (s *Service) RecordPaymentEvent(ctx context.Context, ev PaymentEvent) (PaymentEventResult, error) {
	if strings.TrimSpace(ev.AffiliateID) == "" || ev.GrossAmount == 0 {
		return PaymentEventResult{Ignored: true}, nil
	}
	res, err := s.RecordEarning(ctx, RecordEarningInput{
		AffiliateID:    ev.AffiliateID,
		GrossAmount:    ev.GrossAmount,
		Currency:       ev.Currency,
		Source:         ev.Source,
		Reference:      ev.Reference,
		CommissionRate: s.cfg.CommissionRate,
		TraceID:        ev.TraceID,
	})
	if err != nil {
		return PaymentEventResult{}, err
	}
	return PaymentEventResult{RecordEarningResult: res}, nil
}

// UnpaidTotal sums the affiliate's unpaid earnings. EarningIDs is the exact
// set a payout of Total must settle.
func (s *Service) UnpaidTotal(ctx context.Context, affiliateID string) (UnpaidTotal, error) {
	affiliateID = strings.TrimSpace(affiliateID)
	if affiliateID == "" {
		return UnpaidTotal{}, fmt.Errorf("%w: affiliate_id is required", domain.ErrInvalidInput)
	}
	rows, err := s.earnings.ListUnpaidByAffiliateID(ctx, affiliateID)
	if err != nil {
		return UnpaidTotal{}, fmt.Errorf("list unpaid earnings: %w", err)
	}
	sortEarnings(rows)
	unpaid := unpaidOnly(rows)
	total, err := domain.SumEarnings(unpaid)
	if err != nil {
		return UnpaidTotal{}, err
	}
	out := UnpaidTotal{AffiliateID: affiliateID, Total: total, EarningIDs: make([]string, 0, len(unpaid))}
	for _, row := range unpaid {
		out.EarningIDs = append(out.EarningIDs, row.EarningID)
	}
	return out, nil
}

func (s *Service) GetAffiliateStatement(ctx context.Context, affiliateID string) (Statement, error) {
	affiliateID = strings.TrimSpace(affiliateID)
	if affiliateID == "" {
		return Statement{}, fmt.Errorf("%w: affiliate_id is required", domain.ErrInvalidInput)
	}
	if _, err := s.affiliates.GetByID(ctx, affiliateID); err != nil {
		return Statement{}, err
	}
	earnings, err := s.earnings.ListByAffiliateID(ctx, affiliateID)
	if err != nil {
		return Statement{}, fmt.Errorf("list earnings: %w", err)
	}
	payouts, err := s.payouts.ListByAffiliateID(ctx, affiliateID)
	if err != nil {
		return Statement{}, fmt.Errorf("list payouts: %w", err)
	}
	sortEarnings(earnings)
	sort.Slice(payouts, func(i, j int) bool { return payouts[i].Sequence < payouts[j].Sequence })

	out := Statement{AffiliateID: affiliateID, Earnings: earnings, Payouts: payouts}
	if out.TotalEarned, err = domain.SumEarnings(earnings); err != nil {
		return Statement{}, err
	}
	if out.Unpaid, err = domain.SumEarnings(unpaidOnly(earnings)); err != nil {
		return Statement{}, err
	}
	for _, row := range payouts {
		if out.PaidOut, err = out.PaidOut.Add(row.Amount); err != nil {
			return Statement{}, err
		}
	}
	out.Balanced = out.PaidOut+out.Unpaid == out.TotalEarned
	return out, nil
}

func unpaidOnly(rows []domain.Earning) []domain.Earning {
	out := make([]domain.Earning, 0, len(rows))
	for _, row := range rows {
		if !row.Paid {
			out = append(out, row)
		}
	}
	return out
}

func sortEarnings(rows []domain.Earning) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].EarningID < rows[j].EarningID
	})
}
