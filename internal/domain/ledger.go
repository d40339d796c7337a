package domain

import "time"

type Source string

const (
	SourceStripe Source = "stripe"
	SourcePayPal Source = "paypal"
)

func (s Source) Valid() bool {
	switch s {
	case SourceStripe, SourcePayPal:
		return true
	default:
		return false
	}
}

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
	PayoutStatusFailed     PayoutStatus = "failed"
)

type Affiliate struct {
	AffiliateID string    `json:"affiliate_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Earning is immutable after creation except for the single unpaid to paid
// transition, which also stamps PayoutID and PaidAt.
type Earning struct {
	EarningID   string     `json:"earning_id"`
	AffiliateID string     `json:"affiliate_id"`
	Amount      Money      `json:"amount"`
	Gross       Money      `json:"gross"`
	Currency    string     `json:"currency"`
	Source      Source     `json:"source"`
	Reference   string     `json:"reference"`
	Paid        bool       `json:"paid"`
	PayoutID    string     `json:"payout_id,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Payout carries the exact earning set it settles. AppliedAt is set once
// every listed earning has been marked paid by this payout.
type Payout struct {
	PayoutID    string       `json:"payout_id"`
	AffiliateID string       `json:"affiliate_id"`
	Sequence    int64        `json:"sequence"`
	Amount      Money        `json:"amount"`
	Currency    string       `json:"currency"`
	Status      PayoutStatus `json:"status"`
	EarningIDs  []string     `json:"earning_ids"`
	RunID       string       `json:"run_id"`
	CreatedAt   time.Time    `json:"created_at"`
	AppliedAt   *time.Time   `json:"applied_at,omitempty"`
}

func (p Payout) Applied() bool { return p.AppliedAt != nil }

// SumEarnings totals the amount of every earning in rows.
func SumEarnings(rows []Earning) (Money, error) {
	var total Money
	for _, row := range rows {
		next, err := total.Add(row.Amount)
		if err != nil {
			return 0, err
		}
		total = next
	}
	return total, nil
}
