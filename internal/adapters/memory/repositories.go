package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/domain"
	"github.com/viralforge/affiliate-ledger/internal/ports"
)

// Repositories is the process-local store used when no database is
// configured and in tests. Every method is atomic under its own mutex.
type Repositories struct {
	Affiliates *AffiliateRepository
	Earnings   *EarningRepository
	Payouts    *PayoutRepository
	Outbox     *OutboxRepository
}

func NewRepositories() *Repositories {
	return &Repositories{
		Affiliates: &AffiliateRepository{byID: map[string]domain.Affiliate{}},
		Earnings:   &EarningRepository{byID: map[string]domain.Earning{}, byReference: map[string]string{}, byAffiliate: map[string][]string{}},
		Payouts:    &PayoutRepository{byID: map[string]domain.Payout{}, bySequence: map[string]string{}, byAffiliate: map[string][]string{}},
		Outbox:     &OutboxRepository{rows: map[string]ports.OutboxRecord{}, order: []string{}},
	}
}

type AffiliateRepository struct {
	mu   sync.Mutex
	byID map[string]domain.Affiliate
}

func (r *AffiliateRepository) Ensure(_ context.Context, affiliateID string, at time.Time) (domain.Affiliate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	affiliateID = strings.TrimSpace(affiliateID)
	if row, ok := r.byID[affiliateID]; ok {
		return row, nil
	}
	row := domain.Affiliate{AffiliateID: affiliateID, CreatedAt: at}
	r.byID[affiliateID] = row
	return row, nil
}

func (r *AffiliateRepository) GetByID(_ context.Context, affiliateID string) (domain.Affiliate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byID[strings.TrimSpace(affiliateID)]
	if !ok {
		return domain.Affiliate{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *AffiliateRepository) ListPage(_ context.Context, afterID string, limit int) ([]domain.Affiliate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.Affiliate, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out, nil
}

type EarningRepository struct {
	mu          sync.Mutex
	byID        map[string]domain.Earning
	byReference map[string]string
	byAffiliate map[string][]string
}

func referenceKey(source domain.Source, reference string) string {
	return string(source) + "\x00" + reference
}

func (r *EarningRepository) Create(_ context.Context, row domain.Earning) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[row.EarningID]; ok {
		return domain.ErrConflict
	}
	key := referenceKey(row.Source, row.Reference)
	if _, ok := r.byReference[key]; ok {
		return domain.ErrConflict
	}
	r.byID[row.EarningID] = row
	r.byReference[key] = row.EarningID
	r.byAffiliate[row.AffiliateID] = append(r.byAffiliate[row.AffiliateID], row.EarningID)
	return nil
}

func (r *EarningRepository) GetByReference(_ context.Context, source domain.Source, reference string) (domain.Earning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byReference[referenceKey(source, reference)]
	if !ok {
		return domain.Earning{}, domain.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *EarningRepository) GetByIDs(_ context.Context, earningIDs []string) ([]domain.Earning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Earning, 0, len(earningIDs))
	for _, id := range earningIDs {
		if row, ok := r.byID[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *EarningRepository) ListByAffiliateID(_ context.Context, affiliateID string) ([]domain.Earning, error) {
	return r.list(affiliateID, false), nil
}

func (r *EarningRepository) ListUnpaidByAffiliateID(_ context.Context, affiliateID string) ([]domain.Earning, error) {
	return r.list(affiliateID, true), nil
}

func (r *EarningRepository) list(affiliateID string, unpaidOnly bool) []domain.Earning {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byAffiliate[strings.TrimSpace(affiliateID)]
	out := make([]domain.Earning, 0, len(ids))
	for _, id := range ids {
		row := r.byID[id]
		if unpaidOnly && row.Paid {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (r *EarningRepository) MarkPaid(_ context.Context, earningIDs []string, payoutID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	changed := 0
	for _, id := range earningIDs {
		row, ok := r.byID[id]
		if !ok || row.Paid {
			continue
		}
		paidAt := at
		row.Paid = true
		row.PayoutID = payoutID
		row.PaidAt = &paidAt
		r.byID[id] = row
		changed++
	}
	return changed, nil
}

type PayoutRepository struct {
	mu          sync.Mutex
	byID        map[string]domain.Payout
	bySequence  map[string]string
	byAffiliate map[string][]string
}

func sequenceKey(affiliateID string, seq int64) string {
	return affiliateID + "\x00" + strconv.FormatInt(seq, 10)
}

func (r *PayoutRepository) Create(_ context.Context, row domain.Payout) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[row.PayoutID]; ok {
		return domain.ErrConflict
	}
	key := sequenceKey(row.AffiliateID, row.Sequence)
	if _, ok := r.bySequence[key]; ok {
		return domain.ErrConflict
	}
	row.EarningIDs = append([]string(nil), row.EarningIDs...)
	r.byID[row.PayoutID] = row
	r.bySequence[key] = row.PayoutID
	r.byAffiliate[row.AffiliateID] = append(r.byAffiliate[row.AffiliateID], row.PayoutID)
	return nil
}

func (r *PayoutRepository) GetByID(_ context.Context, payoutID string) (domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byID[strings.TrimSpace(payoutID)]
	if !ok {
		return domain.Payout{}, domain.ErrNotFound
	}
	return clonePayout(row), nil
}

func (r *PayoutRepository) LatestSequence(_ context.Context, affiliateID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest int64
	for _, id := range r.byAffiliate[affiliateID] {
		if seq := r.byID[id].Sequence; seq > latest {
			latest = seq
		}
	}
	return latest, nil
}

func (r *PayoutRepository) ListByAffiliateID(_ context.Context, affiliateID string) ([]domain.Payout, error) {
	return r.listByAffiliate(affiliateID, false), nil
}

func (r *PayoutRepository) ListUnappliedByAffiliateID(_ context.Context, affiliateID string) ([]domain.Payout, error) {
	return r.listByAffiliate(affiliateID, true), nil
}

func (r *PayoutRepository) listByAffiliate(affiliateID string, unappliedOnly bool) []domain.Payout {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byAffiliate[affiliateID]
	out := make([]domain.Payout, 0, len(ids))
	for _, id := range ids {
		row := r.byID[id]
		if unappliedOnly && row.Applied() {
			continue
		}
		out = append(out, clonePayout(row))
	}
	return out
}

func (r *PayoutRepository) ListPage(_ context.Context, afterID string, limit int, includeApplied bool) ([]domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byID))
	for id, row := range r.byID {
		if id <= afterID || (!includeApplied && row.Applied()) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]domain.Payout, 0, len(ids))
	for _, id := range ids {
		out = append(out, clonePayout(r.byID[id]))
	}
	return out, nil
}

func (r *PayoutRepository) MarkApplied(_ context.Context, payoutID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.byID[payoutID]
	if !ok {
		return domain.ErrNotFound
	}
	if row.AppliedAt == nil {
		appliedAt := at
		row.AppliedAt = &appliedAt
		r.byID[payoutID] = row
	}
	return nil
}

func clonePayout(row domain.Payout) domain.Payout {
	row.EarningIDs = append([]string(nil), row.EarningIDs...)
	return row
}

type OutboxRepository struct {
	mu    sync.Mutex
	rows  map[string]ports.OutboxRecord
	order []string
}

func (r *OutboxRepository) Enqueue(_ context.Context, record ports.OutboxRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[record.OutboxID]; ok {
		return domain.ErrConflict
	}
	r.rows[record.OutboxID] = record
	r.order = append(r.order, record.OutboxID)
	return nil
}

func (r *OutboxRepository) FetchUnpublished(_ context.Context, limit int) ([]ports.OutboxRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.OutboxRecord, 0, limit)
	for _, id := range r.order {
		rec := r.rows[id]
		if rec.PublishedAt != nil {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *OutboxRepository) MarkPublished(_ context.Context, outboxID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	publishedAt := at
	rec.PublishedAt = &publishedAt
	r.rows[outboxID] = rec
	return nil
}

func (r *OutboxRepository) MarkFailed(_ context.Context, outboxID, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[outboxID]
	if !ok {
		return domain.ErrNotFound
	}
	failedAt := at
	rec.RetryCount++
	rec.LastError = errMsg
	rec.LastErrorAt = &failedAt
	r.rows[outboxID] = rec
	return nil
}
