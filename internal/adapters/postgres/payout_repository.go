package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/domain"
	"gorm.io/gorm"
)

type payoutRepository struct {
	db *gorm.DB
}

func (r *payoutRepository) Create(ctx context.Context, row domain.Payout) error {
	rec := fromPayout(row)
	return mapError(r.db.WithContext(ctx).Create(&rec).Error)
}

func (r *payoutRepository) GetByID(ctx context.Context, payoutID string) (domain.Payout, error) {
	var row payoutModel
	if err := r.db.WithContext(ctx).Where("payout_id = ?", strings.TrimSpace(payoutID)).First(&row).Error; err != nil {
		return domain.Payout{}, mapError(err)
	}
	return toPayout(row), nil
}

func (r *payoutRepository) LatestSequence(ctx context.Context, affiliateID string) (int64, error) {
	var latest int64
	err := r.db.WithContext(ctx).Model(&payoutModel{}).
		Select("COALESCE(MAX(sequence), 0)").
		Where("affiliate_id = ?", affiliateID).
		Scan(&latest).Error
	if err != nil {
		return 0, mapError(err)
	}
	return latest, nil
}

func (r *payoutRepository) ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.Payout, error) {
	return r.find(r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("sequence asc"))
}

func (r *payoutRepository) ListUnappliedByAffiliateID(ctx context.Context, affiliateID string) ([]domain.Payout, error) {
	return r.find(r.db.WithContext(ctx).Where("affiliate_id = ? AND applied_at IS NULL", affiliateID).Order("sequence asc"))
}

func (r *payoutRepository) ListPage(ctx context.Context, afterID string, limit int, includeApplied bool) ([]domain.Payout, error) {
	q := r.db.WithContext(ctx).Where("payout_id > ?", afterID)
	if !includeApplied {
		q = q.Where("applied_at IS NULL")
	}
	q = q.Order("payout_id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return r.find(q)
}

func (r *payoutRepository) MarkApplied(ctx context.Context, payoutID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&payoutModel{}).
		Where("payout_id = ? AND applied_at IS NULL", payoutID).
		Update("applied_at", at)
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		// Either already applied or unknown.
		if _, err := r.GetByID(ctx, payoutID); err != nil {
			return err
		}
	}
	return nil
}

func (r *payoutRepository) find(q *gorm.DB) ([]domain.Payout, error) {
	var rows []payoutModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.Payout, 0, len(rows))
	for _, row := range rows {
		out = append(out, toPayout(row))
	}
	return out, nil
}
