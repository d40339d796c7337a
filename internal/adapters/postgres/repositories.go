package postgres

import "gorm.io/gorm"

type Repositories struct {
	Affiliates *affiliateRepository
	Earnings   *earningRepository
	Payouts    *payoutRepository
	Outbox     *outboxRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Affiliates: &affiliateRepository{db: db},
		Earnings:   &earningRepository{db: db},
		Payouts:    &payoutRepository{db: db},
		Outbox:     &outboxRepository{db: db},
	}
}
