package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/affiliate-ledger/internal/application"
	"github.com/viralforge/affiliate-ledger/internal/contracts"
	"github.com/viralforge/affiliate-ledger/internal/domain"
)

const maxWebhookBytes = 1 << 20

type Handler struct {
	service *application.Service
	stripe  *StripeVerifier
	logger  *slog.Logger
}

func NewHandler(service *application.Service, stripe *StripeVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, stripe: stripe, logger: logger}
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.fail(w, r, "readyz", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) recordEarning(w http.ResponseWriter, r *http.Request) {
	var req contracts.RecordEarningRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json body")
		return
	}
	gross, err := domain.ParseMoney(req.GrossAmount)
	if err != nil {
		h.fail(w, r, "record_earning", err)
		return
	}
	rate := h.service.Config().CommissionRate
	if strings.TrimSpace(req.CommissionRate) != "" {
		if rate, err = domain.ParseRate(req.CommissionRate); err != nil {
			h.fail(w, r, "record_earning", err)
			return
		}
	}
	res, err := h.service.RecordEarning(r.Context(), application.RecordEarningInput{
		AffiliateID:    req.AffiliateID,
		GrossAmount:    gross,
		Source:         domain.Source(req.Source),
		Reference:      req.Reference,
		CommissionRate: rate,
		TraceID:        requestIDFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "record_earning", err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeSuccess(w, status, contracts.RecordEarningResponse{Earning: toEarningResponse(res.Earning), Duplicate: res.Duplicate})
}

func (h *Handler) runPayouts(w http.ResponseWriter, r *http.Request) {
	var req contracts.RunPayoutsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json body")
		return
	}
	threshold := h.service.Config().PayoutThreshold
	if strings.TrimSpace(req.Threshold) != "" {
		parsed, err := domain.ParseMoney(req.Threshold)
		if err != nil {
			h.fail(w, r, "run_payouts", err)
			return
		}
		threshold = parsed
	}
	h.logger.InfoContext(r.Context(), "payout run requested",
		"module", "http",
		"layer", "adapter",
		"operation", "run_payouts",
		"outcome", "accepted",
		"admin_subject", adminSubjectFromContext(r.Context()),
		"request_id", requestIDFromContext(r.Context()),
		"threshold_minor", int64(threshold),
	)
	report, err := h.service.RunPayouts(r.Context(), threshold)
	if err != nil {
		if report.RunID == "" {
			h.fail(w, r, "run_payouts", err)
			return
		}
		// Affiliates already paid stay paid; the caller needs to see them.
		report.Aborted = true
		h.failWithData(w, r, "run_payouts", err, toRunPayoutsResponse(report))
		return
	}
	writeSuccess(w, http.StatusOK, toRunPayoutsResponse(report))
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	includeApplied, _ := strconv.ParseBool(r.URL.Query().Get("include_applied"))
	report, err := h.service.Reconcile(r.Context(), includeApplied)
	if err != nil {
		h.fail(w, r, "reconcile", err)
		return
	}
	items := make([]contracts.PayoutDiscrepancyResponse, 0, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		items = append(items, contracts.PayoutDiscrepancyResponse{
			PayoutID:          d.PayoutID,
			AffiliateID:       d.AffiliateID,
			Applied:           d.Applied,
			UnpaidEarningIDs:  d.UnpaidEarningIDs,
			ForeignEarningIDs: d.ForeignEarningIDs,
			MissingEarningIDs: d.MissingEarningIDs,
		})
	}
	writeSuccess(w, http.StatusOK, contracts.ReconciliationResponse{Scanned: report.Scanned, Discrepancies: items})
}

func (h *Handler) repairPayout(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RepairPayout(r.Context(), chi.URLParam(r, "payout_id"))
	if err != nil {
		h.fail(w, r, "repair_payout", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.RepairPayoutResponse{
		Payout:       toPayoutResponse(res.Payout),
		MarkedPaid:   res.MarkedPaid,
		AlreadyFixed: res.AlreadyFixed,
	})
}

func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetAffiliateStatement(r.Context(), chi.URLParam(r, "affiliate_id"))
	if err != nil {
		h.fail(w, r, "get_statement", err)
		return
	}
	out := contracts.StatementResponse{
		AffiliateID: st.AffiliateID,
		TotalEarned: st.TotalEarned.String(),
		Unpaid:      st.Unpaid.String(),
		PaidOut:     st.PaidOut.String(),
		Balanced:    st.Balanced,
		Earnings:    make([]contracts.EarningResponse, 0, len(st.Earnings)),
		Payouts:     make([]contracts.PayoutResponse, 0, len(st.Payouts)),
	}
	for _, e := range st.Earnings {
		out.Earnings = append(out.Earnings, toEarningResponse(e))
	}
	for _, p := range st.Payouts {
		out.Payouts = append(out.Payouts, toPayoutResponse(p))
	}
	writeSuccess(w, http.StatusOK, out)
}

func (h *Handler) getUnpaidTotal(w http.ResponseWriter, r *http.Request) {
	total, err := h.service.UnpaidTotal(r.Context(), chi.URLParam(r, "affiliate_id"))
	if err != nil {
		h.fail(w, r, "unpaid_total", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{
		"affiliate_id": total.AffiliateID,
		"total":        total.Total.String(),
		"total_minor":  int64(total.Total),
		"earning_ids":  total.EarningIDs,
	})
}

// stripeWebhook records commission for checkout.session.completed events.
// Signed events the ledger cannot use are acknowledged so the provider
// stops retrying; only store failures ask for redelivery.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "unreadable body")
		return
	}
	if err := h.stripe.Verify(payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.fail(w, r, "stripe_webhook", err)
		return
	}
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid event json")
		return
	}
	if event.Type != "checkout.session.completed" {
		writeSuccess(w, http.StatusOK, contracts.WebhookAck{Received: true})
		return
	}
	var session stripeCheckoutSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid checkout session")
		return
	}
	res, err := h.service.RecordPaymentEvent(r.Context(), application.PaymentEvent{
		Source:      domain.SourceStripe,
		Reference:   session.ID,
		AffiliateID: session.Metadata["affiliate_id"],
		GrossAmount: domain.Money(session.AmountTotal),
		Currency:    session.Currency,
		TraceID:     event.ID,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidInput):
		h.logger.WarnContext(r.Context(), "stripe checkout not recorded",
			"module", "http",
			"layer", "adapter",
			"operation", "stripe_webhook",
			"outcome", "rejected",
			"event_id", event.ID,
			"session_id", session.ID,
			"error", err,
		)
		writeSuccess(w, http.StatusOK, contracts.WebhookAck{Received: true})
		return
	default:
		h.fail(w, r, "stripe_webhook", err)
		return
	}
	writeSuccess(w, http.StatusOK, contracts.WebhookAck{
		Received:  true,
		Recorded:  !res.Ignored,
		Duplicate: res.Duplicate,
		EarningID: res.Earning.EarningID,
	})
}

func toEarningResponse(e domain.Earning) contracts.EarningResponse {
	out := contracts.EarningResponse{
		EarningID:   e.EarningID,
		AffiliateID: e.AffiliateID,
		Amount:      e.Amount.String(),
		AmountMinor: int64(e.Amount),
		Gross:       e.Gross.String(),
		Currency:    e.Currency,
		Source:      string(e.Source),
		Reference:   e.Reference,
		Paid:        e.Paid,
		PayoutID:    e.PayoutID,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.PaidAt != nil {
		out.PaidAt = e.PaidAt.UTC().Format(time.RFC3339)
	}
	return out
}

func toPayoutResponse(p domain.Payout) contracts.PayoutResponse {
	out := contracts.PayoutResponse{
		PayoutID:    p.PayoutID,
		AffiliateID: p.AffiliateID,
		Sequence:    p.Sequence,
		Amount:      p.Amount.String(),
		AmountMinor: int64(p.Amount),
		Currency:    p.Currency,
		Status:      string(p.Status),
		EarningIDs:  p.EarningIDs,
		RunID:       p.RunID,
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.AppliedAt != nil {
		out.AppliedAt = p.AppliedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func toRunPayoutsResponse(report application.PayoutRunReport) contracts.RunPayoutsResponse {
	out := contracts.RunPayoutsResponse{
		RunID:          report.RunID,
		Threshold:      report.Threshold.String(),
		Paid:           make([]contracts.PaidAffiliate, 0, len(report.Paid)),
		BelowThreshold: report.BelowThreshold,
		Failed:         make([]contracts.FailedAffiliate, 0, len(report.Failed)),
		Aborted:        report.Aborted,
		StartedAt:      report.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:     report.FinishedAt.UTC().Format(time.RFC3339),
	}
	for _, p := range report.Paid {
		out.Paid = append(out.Paid, contracts.PaidAffiliate{AffiliateID: p.AffiliateID, PayoutID: p.PayoutID, Amount: p.Amount.String(), AmountMinor: int64(p.Amount)})
	}
	for _, f := range report.Failed {
		out.Failed = append(out.Failed, contracts.FailedAffiliate{AffiliateID: f.AffiliateID, Code: f.Code, Reason: f.Reason})
	}
	if out.BelowThreshold == nil {
		out.BelowThreshold = []string{}
	}
	return out
}

