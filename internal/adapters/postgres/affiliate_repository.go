package postgres

import (
	"context"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type affiliateRepository struct {
	db *gorm.DB
}

func (r *affiliateRepository) Ensure(ctx context.Context, affiliateID string, at time.Time) (domain.Affiliate, error) {
	rec := affiliateModel{AffiliateID: affiliateID, CreatedAt: at}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return domain.Affiliate{}, mapError(err)
	}
	return r.GetByID(ctx, affiliateID)
}

func (r *affiliateRepository) GetByID(ctx context.Context, affiliateID string) (domain.Affiliate, error) {
	var row affiliateModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).First(&row).Error; err != nil {
		return domain.Affiliate{}, mapError(err)
	}
	return toAffiliate(row), nil
}

func (r *affiliateRepository) ListPage(ctx context.Context, afterID string, limit int) ([]domain.Affiliate, error) {
	var rows []affiliateModel
	q := r.db.WithContext(ctx).Where("affiliate_id > ?", afterID).Order("affiliate_id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.Affiliate, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAffiliate(row))
	}
	return out, nil
}
