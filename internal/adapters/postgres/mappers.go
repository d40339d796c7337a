package postgres

import (
	"github.com/lib/pq"
	"github.com/viralforge/affiliate-ledger/internal/domain"
)

func toAffiliate(m affiliateModel) domain.Affiliate {
	return domain.Affiliate{AffiliateID: m.AffiliateID, CreatedAt: m.CreatedAt.UTC()}
}

func fromEarning(e domain.Earning) earningModel {
	m := earningModel{
		EarningID:   e.EarningID,
		AffiliateID: e.AffiliateID,
		AmountMinor: int64(e.Amount),
		GrossMinor:  int64(e.Gross),
		Currency:    e.Currency,
		Source:      string(e.Source),
		Reference:   e.Reference,
		Paid:        e.Paid,
		PaidAt:      e.PaidAt,
		CreatedAt:   e.CreatedAt,
	}
	if e.PayoutID != "" {
		payoutID := e.PayoutID
		m.PayoutID = &payoutID
	}
	return m
}

func toEarning(m earningModel) domain.Earning {
	e := domain.Earning{
		EarningID:   m.EarningID,
		AffiliateID: m.AffiliateID,
		Amount:      domain.Money(m.AmountMinor),
		Gross:       domain.Money(m.GrossMinor),
		Currency:    m.Currency,
		Source:      domain.Source(m.Source),
		Reference:   m.Reference,
		Paid:        m.Paid,
		CreatedAt:   m.CreatedAt.UTC(),
	}
	if m.PayoutID != nil {
		e.PayoutID = *m.PayoutID
	}
	if m.PaidAt != nil {
		paidAt := m.PaidAt.UTC()
		e.PaidAt = &paidAt
	}
	return e
}

func fromPayout(p domain.Payout) payoutModel {
	return payoutModel{
		PayoutID:    p.PayoutID,
		AffiliateID: p.AffiliateID,
		Sequence:    p.Sequence,
		AmountMinor: int64(p.Amount),
		Currency:    p.Currency,
		Status:      string(p.Status),
		EarningIDs:  pq.StringArray(append([]string(nil), p.EarningIDs...)),
		RunID:       p.RunID,
		CreatedAt:   p.CreatedAt,
		AppliedAt:   p.AppliedAt,
	}
}

func toPayout(m payoutModel) domain.Payout {
	p := domain.Payout{
		PayoutID:    m.PayoutID,
		AffiliateID: m.AffiliateID,
		Sequence:    m.Sequence,
		Amount:      domain.Money(m.AmountMinor),
		Currency:    m.Currency,
		Status:      domain.PayoutStatus(m.Status),
		EarningIDs:  append([]string{}, m.EarningIDs...),
		RunID:       m.RunID,
		CreatedAt:   m.CreatedAt.UTC(),
	}
	if m.AppliedAt != nil {
		appliedAt := m.AppliedAt.UTC()
		p.AppliedAt = &appliedAt
	}
	return p
}
