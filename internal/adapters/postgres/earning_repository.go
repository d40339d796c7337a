package postgres

import (
	"context"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/domain"
	"gorm.io/gorm"
)

type earningRepository struct {
	db *gorm.DB
}

func (r *earningRepository) Create(ctx context.Context, row domain.Earning) error {
	rec := fromEarning(row)
	return mapError(r.db.WithContext(ctx).Create(&rec).Error)
}

func (r *earningRepository) GetByReference(ctx context.Context, source domain.Source, reference string) (domain.Earning, error) {
	var row earningModel
	if err := r.db.WithContext(ctx).Where("source = ? AND reference = ?", string(source), reference).First(&row).Error; err != nil {
		return domain.Earning{}, mapError(err)
	}
	return toEarning(row), nil
}

func (r *earningRepository) GetByIDs(ctx context.Context, earningIDs []string) ([]domain.Earning, error) {
	if len(earningIDs) == 0 {
		return []domain.Earning{}, nil
	}
	var rows []earningModel
	if err := r.db.WithContext(ctx).Where("earning_id IN ?", earningIDs).Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return toEarnings(rows), nil
}

func (r *earningRepository) ListByAffiliateID(ctx context.Context, affiliateID string) ([]domain.Earning, error) {
	var rows []earningModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ?", affiliateID).Order("created_at asc, earning_id asc").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return toEarnings(rows), nil
}

func (r *earningRepository) ListUnpaidByAffiliateID(ctx context.Context, affiliateID string) ([]domain.Earning, error) {
	var rows []earningModel
	if err := r.db.WithContext(ctx).Where("affiliate_id = ? AND paid = FALSE", affiliateID).Order("created_at asc, earning_id asc").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return toEarnings(rows), nil
}

// MarkPaid is a conditional update: rows already paid are left untouched,
// whichever payout settled them.
func (r *earningRepository) MarkPaid(ctx context.Context, earningIDs []string, payoutID string, at time.Time) (int, error) {
	if len(earningIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Model(&earningModel{}).
		Where("earning_id IN ? AND paid = FALSE", earningIDs).
		Updates(map[string]any{
			"paid":      true,
			"payout_id": payoutID,
			"paid_at":   at,
		})
	if res.Error != nil {
		return 0, mapError(res.Error)
	}
	return int(res.RowsAffected), nil
}

func toEarnings(rows []earningModel) []domain.Earning {
	out := make([]domain.Earning, 0, len(rows))
	for _, row := range rows {
		out = append(out, toEarning(row))
	}
	return out
}
