package contracts

type SuccessResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type RecordEarningRequest struct {
	AffiliateID    string `json:"affiliate_id"`
	GrossAmount    string `json:"gross_amount"`
	Source         string `json:"source"`
	Reference      string `json:"reference"`
	CommissionRate string `json:"commission_rate,omitempty"`
}

type EarningResponse struct {
	EarningID   string `json:"earning_id"`
	AffiliateID string `json:"affiliate_id"`
	Amount      string `json:"amount"`
	AmountMinor int64  `json:"amount_minor"`
	Gross       string `json:"gross"`
	Currency    string `json:"currency"`
	Source      string `json:"source"`
	Reference   string `json:"reference"`
	Paid        bool   `json:"paid"`
	PayoutID    string `json:"payout_id,omitempty"`
	PaidAt      string `json:"paid_at,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type RecordEarningResponse struct {
	Earning   EarningResponse `json:"earning"`
	Duplicate bool            `json:"duplicate"`
}

type RunPayoutsRequest struct {
	Threshold string `json:"threshold,omitempty"`
}

type PaidAffiliate struct {
	AffiliateID string `json:"affiliate_id"`
	PayoutID    string `json:"payout_id"`
	Amount      string `json:"amount"`
	AmountMinor int64  `json:"amount_minor"`
}

type FailedAffiliate struct {
	AffiliateID string `json:"affiliate_id"`
	Code        string `json:"code"`
	Reason      string `json:"reason"`
}

type RunPayoutsResponse struct {
	RunID          string            `json:"run_id"`
	Threshold      string            `json:"threshold"`
	Paid           []PaidAffiliate   `json:"paid"`
	BelowThreshold []string          `json:"below_threshold"`
	Failed         []FailedAffiliate `json:"failed"`
	Aborted        bool              `json:"aborted"`
	StartedAt      string            `json:"started_at"`
	FinishedAt     string            `json:"finished_at"`
}

type PayoutResponse struct {
	PayoutID    string   `json:"payout_id"`
	AffiliateID string   `json:"affiliate_id"`
	Sequence    int64    `json:"sequence"`
	Amount      string   `json:"amount"`
	AmountMinor int64    `json:"amount_minor"`
	Currency    string   `json:"currency"`
	Status      string   `json:"status"`
	EarningIDs  []string `json:"earning_ids"`
	RunID       string   `json:"run_id,omitempty"`
	CreatedAt   string   `json:"created_at"`
	AppliedAt   string   `json:"applied_at,omitempty"`
}

type StatementResponse struct {
	AffiliateID string            `json:"affiliate_id"`
	TotalEarned string            `json:"total_earned"`
	Unpaid      string            `json:"unpaid"`
	PaidOut     string            `json:"paid_out"`
	Balanced    bool              `json:"balanced"`
	Earnings    []EarningResponse `json:"earnings"`
	Payouts     []PayoutResponse  `json:"payouts"`
}

type PayoutDiscrepancyResponse struct {
	PayoutID          string   `json:"payout_id"`
	AffiliateID       string   `json:"affiliate_id"`
	Applied           bool     `json:"applied"`
	UnpaidEarningIDs  []string `json:"unpaid_earning_ids,omitempty"`
	ForeignEarningIDs []string `json:"foreign_earning_ids,omitempty"`
	MissingEarningIDs []string `json:"missing_earning_ids,omitempty"`
}

type ReconciliationResponse struct {
	Scanned       int                         `json:"scanned"`
	Discrepancies []PayoutDiscrepancyResponse `json:"discrepancies"`
}

type RepairPayoutResponse struct {
	Payout       PayoutResponse `json:"payout"`
	MarkedPaid   int            `json:"marked_paid"`
	AlreadyFixed bool           `json:"already_fixed"`
}

type WebhookAck struct {
	Received  bool   `json:"received"`
	Recorded  bool   `json:"recorded"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EarningID string `json:"earning_id,omitempty"`
}
