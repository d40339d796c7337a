package application

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/viralforge/affiliate-ledger/internal/adapters/cache"
	"github.com/viralforge/affiliate-ledger/internal/adapters/memory"
	"github.com/viralforge/affiliate-ledger/internal/contracts"
	"github.com/viralforge/affiliate-ledger/internal/domain"
	"github.com/viralforge/affiliate-ledger/internal/ports"
)

var fullRate = decimal.NewFromInt(1)

type faultyEarnings struct {
	*memory.EarningRepository
	mu            sync.Mutex
	failMarkPaid  bool
	missReference int
}

// GetByReference answers ErrNotFound for the next missReference lookups,
// as a reader racing a concurrent insert of the same reference would see.
func (f *faultyEarnings) GetByReference(ctx context.Context, source domain.Source, reference string) (domain.Earning, error) {
	f.mu.Lock()
	miss := f.missReference > 0
	if miss {
		f.missReference--
	}
	f.mu.Unlock()
	if miss {
		return domain.Earning{}, domain.ErrNotFound
	}
	return f.EarningRepository.GetByReference(ctx, source, reference)
}

func (f *faultyEarnings) missNextLookups(n int) {
	f.mu.Lock()
	f.missReference = n
	f.mu.Unlock()
}

func (f *faultyEarnings) MarkPaid(ctx context.Context, ids []string, payoutID string, at time.Time) (int, error) {
	f.mu.Lock()
	fail := f.failMarkPaid
	f.mu.Unlock()
	if fail {
		return 0, domain.ErrStoreUnavailable
	}
	return f.EarningRepository.MarkPaid(ctx, ids, payoutID, at)
}

func (f *faultyEarnings) setFail(v bool) {
	f.mu.Lock()
	f.failMarkPaid = v
	f.mu.Unlock()
}

type faultyPayouts struct {
	*memory.PayoutRepository
	mu              sync.Mutex
	failMarkApplied bool
	failAffiliate   string
	staleSequence   bool
}

func (f *faultyPayouts) MarkApplied(ctx context.Context, payoutID string, at time.Time) error {
	f.mu.Lock()
	fail, only := f.failMarkApplied, f.failAffiliate
	f.mu.Unlock()
	if fail && only != "" {
		payout, err := f.PayoutRepository.GetByID(ctx, payoutID)
		if err != nil {
			return err
		}
		fail = payout.AffiliateID == only
	}
	if fail {
		return domain.ErrStoreUnavailable
	}
	return f.PayoutRepository.MarkApplied(ctx, payoutID, at)
}

// LatestSequence lags one payout behind when staleSequence is set, which is
// what a run sees when another run commits between its read and its insert.
func (f *faultyPayouts) LatestSequence(ctx context.Context, affiliateID string) (int64, error) {
	seq, err := f.PayoutRepository.LatestSequence(ctx, affiliateID)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	stale := f.staleSequence
	f.mu.Unlock()
	if stale && seq > 0 {
		seq--
	}
	return seq, nil
}

func (f *faultyPayouts) failAppliedFor(affiliateID string) {
	f.mu.Lock()
	f.failMarkApplied = true
	f.failAffiliate = affiliateID
	f.mu.Unlock()
}

func (f *faultyPayouts) setStale(v bool) {
	f.mu.Lock()
	f.staleSequence = v
	f.mu.Unlock()
}

func (f *faultyPayouts) setFail(v bool) {
	f.mu.Lock()
	f.failMarkApplied = v
	f.mu.Unlock()
}

type faultyOutbox struct {
	*memory.OutboxRepository
	mu        sync.Mutex
	failTimes int
}

func (f *faultyOutbox) Enqueue(ctx context.Context, record ports.OutboxRecord) error {
	f.mu.Lock()
	fail := f.failTimes > 0
	if fail {
		f.failTimes--
	}
	f.mu.Unlock()
	if fail {
		return domain.ErrStoreUnavailable
	}
	return f.OutboxRepository.Enqueue(ctx, record)
}

func (f *faultyOutbox) failNext(n int) {
	f.mu.Lock()
	f.failTimes = n
	f.mu.Unlock()
}

type harness struct {
	svc      *Service
	repos    *memory.Repositories
	earnings *faultyEarnings
	payouts  *faultyPayouts
	outbox   *faultyOutbox
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLocker(t, cache.NewMemoryLocker())
}

// newHarnessWithLocker builds the service over memory stores; a nil locker
// leaves the sequence check as the only guard against concurrent runs.
func newHarnessWithLocker(t *testing.T, locker ports.Locker) *harness {
	t.Helper()
	repos := memory.NewRepositories()
	h := &harness{
		repos:    repos,
		earnings: &faultyEarnings{EarningRepository: repos.Earnings},
		payouts:  &faultyPayouts{PayoutRepository: repos.Payouts},
		outbox:   &faultyOutbox{OutboxRepository: repos.Outbox},
	}
	h.svc = NewService(Dependencies{
		Config: Config{
			CommissionRate:  decimal.RequireFromString("0.30"),
			PayoutThreshold: 50000,
			PayoutBatchSize: 2,
		},
		Affiliates: repos.Affiliates,
		Earnings:   h.earnings,
		Payouts:    h.payouts,
		Outbox:     h.outbox,
		Locker:     locker,
		Logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	return h
}

// record stores an earning of exactly amount by recording it at a 100% rate.
func (h *harness) record(t *testing.T, affiliateID, reference string, amount domain.Money) domain.Earning {
	t.Helper()
	res, err := h.svc.RecordEarning(context.Background(), RecordEarningInput{
		AffiliateID:    affiliateID,
		GrossAmount:    amount,
		Source:         domain.SourcePayPal,
		Reference:      reference,
		CommissionRate: fullRate,
	})
	if err != nil {
		t.Fatalf("record %s: %v", reference, err)
	}
	return res.Earning
}

func (h *harness) assertConserved(t *testing.T, affiliateID string) Statement {
	t.Helper()
	st, err := h.svc.GetAffiliateStatement(context.Background(), affiliateID)
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if !st.Balanced {
		t.Fatalf("ledger not balanced for %s: earned=%d unpaid=%d paid_out=%d", affiliateID, st.TotalEarned, st.Unpaid, st.PaidOut)
	}
	return st
}

func TestRecordEarningCommissionAndDuplicate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.RecordPaymentEvent(ctx, PaymentEvent{
		Source:      domain.SourceStripe,
		Reference:   "sess_1",
		AffiliateID: "A1",
		GrossAmount: 100000,
		Currency:    "usd",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.Duplicate || first.Ignored || first.Earning.Amount != 30000 {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := h.svc.RecordPaymentEvent(ctx, PaymentEvent{
		Source:      domain.SourceStripe,
		Reference:   "sess_1",
		AffiliateID: "A1",
		GrossAmount: 100000,
	})
	if err != nil {
		t.Fatalf("record duplicate: %v", err)
	}
	if !second.Duplicate || second.Earning.EarningID != first.Earning.EarningID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Earning.EarningID, second)
	}
	total, err := h.svc.UnpaidTotal(ctx, "A1")
	if err != nil {
		t.Fatalf("unpaid total: %v", err)
	}
	if total.Total != 30000 || len(total.EarningIDs) != 1 {
		t.Fatalf("duplicate changed the ledger: %+v", total)
	}
}

func TestRecordEarningRejectsInvalidInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	cases := map[string]RecordEarningInput{
		"missing affiliate": {Source: domain.SourceStripe, Reference: "r", CommissionRate: fullRate},
		"missing reference": {AffiliateID: "A1", Source: domain.SourceStripe, CommissionRate: fullRate},
		"unknown source":    {AffiliateID: "A1", Source: "venmo", Reference: "r", CommissionRate: fullRate},
		"negative gross":    {AffiliateID: "A1", Source: domain.SourceStripe, Reference: "r", GrossAmount: -1, CommissionRate: fullRate},
		"rate above one":    {AffiliateID: "A1", Source: domain.SourceStripe, Reference: "r", GrossAmount: 10, CommissionRate: decimal.RequireFromString("1.01")},
		"foreign currency":  {AffiliateID: "A1", Source: domain.SourceStripe, Reference: "r", GrossAmount: 10, Currency: "EUR", CommissionRate: fullRate},
	}
	for name, in := range cases {
		if _, err := h.svc.RecordEarning(context.Background(), in); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestRunPayoutsPaysOnceAtThreshold(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, "A1", "o-1", 20000)
	h.record(t, "A1", "o-2", 15000)
	h.record(t, "A1", "o-3", 20000)
	h.record(t, "A2", "o-4", 12000)

	report, err := h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if len(report.Paid) != 1 || report.Paid[0].AffiliateID != "A1" || report.Paid[0].Amount != 55000 {
		t.Fatalf("unexpected paid %+v", report.Paid)
	}
	if len(report.BelowThreshold) != 1 || report.BelowThreshold[0] != "A2" {
		t.Fatalf("unexpected below threshold %+v", report.BelowThreshold)
	}
	payout, err := h.repos.Payouts.GetByID(ctx, report.Paid[0].PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	if payout.Sequence != 1 || len(payout.EarningIDs) != 3 || !payout.Applied() {
		t.Fatalf("unexpected payout %+v", payout)
	}

	again, err := h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(again.Paid) != 0 || len(again.Failed) != 0 {
		t.Fatalf("second run should pay nothing, got %+v", again)
	}
	st := h.assertConserved(t, "A1")
	if st.Unpaid != 0 || st.PaidOut != 55000 {
		t.Fatalf("unexpected statement %+v", st)
	}
}

func TestRunPayoutsPaysFullBalanceOnceThresholdCrossed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, "A2", "o-1", 12000)

	report, err := h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if len(report.Paid) != 0 {
		t.Fatalf("expected nothing paid, got %+v", report.Paid)
	}
	h.record(t, "A2", "o-2", 40000)
	report, err = h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if len(report.Paid) != 1 || report.Paid[0].Amount != 52000 {
		t.Fatalf("expected 52000 paid, got %+v", report.Paid)
	}
	h.assertConserved(t, "A2")
}

func TestRunPayoutsRejectsNonPositiveThreshold(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, threshold := range []domain.Money{0, -100} {
		if _, err := h.svc.RunPayouts(context.Background(), threshold); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("threshold %d: expected ErrInvalidInput, got %v", threshold, err)
		}
	}
}

func TestConcurrentRunsNeverDoublePay(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, aff := range []string{"A1", "A2", "A3", "A4", "A5"} {
		h.record(t, aff, aff+"-1", 30000)
		h.record(t, aff, aff+"-2", 30000)
	}

	var wg sync.WaitGroup
	reports := make([]PayoutRunReport, 8)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], _ = h.svc.RunPayouts(context.Background(), 50000)
		}()
	}
	wg.Wait()

	paid := map[string]domain.Money{}
	for _, r := range reports {
		for _, p := range r.Paid {
			paid[p.AffiliateID] += p.Amount
		}
	}
	for _, aff := range []string{"A1", "A2", "A3", "A4", "A5"} {
		payouts, err := h.repos.Payouts.ListByAffiliateID(context.Background(), aff)
		if err != nil {
			t.Fatalf("list payouts: %v", err)
		}
		if len(payouts) > 1 {
			t.Fatalf("%s paid %d times", aff, len(payouts))
		}
		if paid[aff] > 60000 {
			t.Fatalf("%s reported %d paid, earned 60000", aff, paid[aff])
		}
		h.assertConserved(t, aff)
	}
}

func TestRunPayoutsHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.record(t, "A1", "o-1", 60000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.svc.RunPayouts(ctx, 50000)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !report.Aborted || len(report.Paid) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	h.assertConserved(t, "A1")
}

func TestInterruptedApplyIsDetectedAndRepaired(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, "A1", "o-1", 30000)
	h.record(t, "A1", "o-2", 30000)

	h.payouts.setFail(true)
	report, err := h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0].Code != "store_unavailable" {
		t.Fatalf("expected store failure, got %+v", report)
	}
	h.payouts.setFail(false)

	report, err = h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("rerun payouts: %v", err)
	}
	if len(report.Paid) != 0 || len(report.Failed) != 1 || report.Failed[0].Code != "payout_inconsistency" {
		t.Fatalf("expected payout_inconsistency block, got %+v", report)
	}

	rec, err := h.svc.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(rec.Discrepancies) != 1 || rec.Discrepancies[0].Applied {
		t.Fatalf("expected one unapplied discrepancy, got %+v", rec)
	}
	payoutID := rec.Discrepancies[0].PayoutID

	if n := countEvents(t, h, domain.EventAffiliatePayoutCreated); n != 0 {
		t.Fatalf("unapplied payout must not be announced, got %d events", n)
	}

	res, err := h.svc.RepairPayout(ctx, payoutID)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if res.AlreadyFixed || res.MarkedPaid != 0 || !res.Payout.Applied() {
		t.Fatalf("unexpected repair result %+v", res)
	}
	if n := countEvents(t, h, domain.EventAffiliatePayoutCreated); n != 1 {
		t.Fatalf("repaired payout should be announced once, got %d events", n)
	}
	res, err = h.svc.RepairPayout(ctx, payoutID)
	if err != nil || !res.AlreadyFixed {
		t.Fatalf("second repair should be a no-op, got %+v %v", res, err)
	}
	if n := countEvents(t, h, domain.EventAffiliatePayoutCreated); n != 1 {
		t.Fatalf("no-op repair must not announce again, got %d events", n)
	}
	rec, err = h.svc.Reconcile(ctx, true)
	if err != nil || len(rec.Discrepancies) != 0 || rec.Scanned != 1 {
		t.Fatalf("expected clean reconciliation, got %+v %v", rec, err)
	}
	st := h.assertConserved(t, "A1")
	if st.PaidOut != 60000 || st.Unpaid != 0 {
		t.Fatalf("unexpected statement %+v", st)
	}
}

func TestInterruptedMarkPaidIsRepaired(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, "A1", "o-1", 25000)
	h.record(t, "A1", "o-2", 25000)

	h.earnings.setFail(true)
	if _, err := h.svc.RunPayouts(ctx, 50000); err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	h.earnings.setFail(false)

	rec, err := h.svc.Reconcile(ctx, false)
	if err != nil || len(rec.Discrepancies) != 1 || len(rec.Discrepancies[0].UnpaidEarningIDs) != 2 {
		t.Fatalf("expected two unpaid earnings on the payout, got %+v %v", rec, err)
	}
	res, err := h.svc.RepairPayout(ctx, rec.Discrepancies[0].PayoutID)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if res.MarkedPaid != 2 {
		t.Fatalf("expected 2 earnings marked, got %d", res.MarkedPaid)
	}

	h.record(t, "A1", "o-3", 50000)
	report, err := h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("run after repair: %v", err)
	}
	if len(report.Paid) != 1 || report.Paid[0].Amount != 50000 {
		t.Fatalf("expected only the new earning paid, got %+v", report)
	}
	payout, err := h.repos.Payouts.GetByID(ctx, report.Paid[0].PayoutID)
	if err != nil || payout.Sequence != 2 {
		t.Fatalf("expected sequence 2, got %+v %v", payout, err)
	}
	h.assertConserved(t, "A1")
}

func TestRepairRefusesEarningsPaidElsewhere(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, "A1", "o-1", 60000)
	report, err := h.svc.RunPayouts(ctx, 50000)
	if err != nil || len(report.Paid) != 1 {
		t.Fatalf("run payouts: %+v %v", report, err)
	}
	first, err := h.repos.Payouts.GetByID(ctx, report.Paid[0].PayoutID)
	if err != nil {
		t.Fatalf("get payout: %v", err)
	}
	rogue := domain.Payout{
		PayoutID:    "payout_rogue",
		AffiliateID: "A1",
		Sequence:    2,
		Amount:      first.Amount,
		Currency:    "USD",
		Status:      domain.PayoutStatusPending,
		EarningIDs:  append([]string(nil), first.EarningIDs...),
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.repos.Payouts.Create(ctx, rogue); err != nil {
		t.Fatalf("create rogue payout: %v", err)
	}

	if _, err := h.svc.RepairPayout(ctx, rogue.PayoutID); !errors.Is(err, domain.ErrPayoutInconsistency) {
		t.Fatalf("expected ErrPayoutInconsistency, got %v", err)
	}
	rows, err := h.repos.Earnings.GetByIDs(ctx, first.EarningIDs)
	if err != nil {
		t.Fatalf("get earnings: %v", err)
	}
	for _, row := range rows {
		if row.PayoutID != first.PayoutID {
			t.Fatalf("repair rewrote earning %s to %s", row.EarningID, row.PayoutID)
		}
	}
	stored, err := h.repos.Payouts.GetByID(ctx, rogue.PayoutID)
	if err != nil || stored.Applied() {
		t.Fatalf("rogue payout must stay unapplied, got %+v %v", stored, err)
	}
	if _, err := h.svc.RepairPayout(ctx, "payout_missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandleCanonicalEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	data, err := json.Marshal(contracts.PaymentConfirmedPayload{
		Provider:         "PayPal",
		Reference:        "ORDER-1",
		AffiliateID:      "A9",
		GrossAmountMinor: 100000,
		Currency:         "USD",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := contracts.EventEnvelope{
		EventID:       "evt-1",
		EventType:     domain.EventPaymentConfirmed,
		OccurredAt:    time.Now().UTC(),
		SourceService: "payments",
		SchemaVersion: "v1",
		Data:          data,
	}
	res, err := h.svc.HandleCanonicalEvent(ctx, env)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if res.Earning.Amount != 30000 || res.Earning.Source != domain.SourcePayPal {
		t.Fatalf("unexpected earning %+v", res.Earning)
	}
	if res, err = h.svc.HandleCanonicalEvent(ctx, env); err != nil || !res.Duplicate {
		t.Fatalf("redelivery should be a duplicate, got %+v %v", res, err)
	}

	other := env
	other.EventType = "user.deleted"
	if _, err := h.svc.HandleCanonicalEvent(ctx, other); !errors.Is(err, domain.ErrUnsupportedEventType) {
		t.Fatalf("expected ErrUnsupportedEventType, got %v", err)
	}
	broken := env
	broken.SourceService = ""
	if _, err := h.svc.HandleCanonicalEvent(ctx, broken); !errors.Is(err, domain.ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
}

func TestLedgerWritesEnqueueEvents(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, "A1", "o-1", 60000)
	if _, err := h.svc.RunPayouts(ctx, 50000); err != nil {
		t.Fatalf("run payouts: %v", err)
	}

	records, err := h.repos.Outbox.FetchUnpublished(ctx, 10)
	if err != nil {
		t.Fatalf("fetch outbox: %v", err)
	}
	types := map[string]int{}
	for _, r := range records {
		types[r.EventType]++
		if r.PartitionKey != "A1" {
			t.Fatalf("expected partition key A1, got %q", r.PartitionKey)
		}
		var env contracts.EventEnvelope
		if err := json.Unmarshal(r.Payload, &env); err != nil || env.EventID != r.OutboxID {
			t.Fatalf("outbox payload is not the envelope: %v", err)
		}
	}
	if types[domain.EventAffiliateEarningRecorded] != 1 || types[domain.EventAffiliatePayoutCreated] != 1 {
		t.Fatalf("unexpected outbox events %v", types)
	}
}

var _ ports.EarningRepository = (*faultyEarnings)(nil)
var _ ports.PayoutRepository = (*faultyPayouts)(nil)
var _ ports.OutboxRepository = (*faultyOutbox)(nil)

func countEvents(t *testing.T, h *harness, eventType string) int {
	t.Helper()
	records, err := h.repos.Outbox.FetchUnpublished(context.Background(), 0)
	if err != nil {
		t.Fatalf("fetch outbox: %v", err)
	}
	n := 0
	for _, r := range records {
		if r.EventType == eventType {
			n++
		}
	}
	return n
}

func TestRunPayoutsIsolatesFailingAffiliate(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	for _, aff := range []string{"A1", "A2", "A3"} {
		h.record(t, aff, aff+"-o-1", 60000)
	}
	h.payouts.failAppliedFor("A2")

	report, err := h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("run payouts: %v", err)
	}
	if report.Aborted {
		t.Fatalf("one failing affiliate must not abort the run: %+v", report)
	}
	if len(report.Paid) != 2 || report.Paid[0].AffiliateID != "A1" || report.Paid[1].AffiliateID != "A3" {
		t.Fatalf("expected A1 and A3 paid, got %+v", report.Paid)
	}
	if len(report.Failed) != 1 || report.Failed[0].AffiliateID != "A2" || report.Failed[0].Code != "store_unavailable" {
		t.Fatalf("expected A2 store failure, got %+v", report.Failed)
	}
	for _, aff := range []string{"A1", "A3"} {
		if st := h.assertConserved(t, aff); st.PaidOut != 60000 || st.Unpaid != 0 {
			t.Fatalf("%s: unexpected statement %+v", aff, st)
		}
	}
}

func TestRecordEarningRereadsAfterInsertConflict(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	first := h.record(t, "A1", "o-1", 10000)

	h.earnings.missNextLookups(1)
	res, err := h.svc.RecordEarning(ctx, RecordEarningInput{
		AffiliateID:    "A1",
		GrossAmount:    10000,
		Source:         domain.SourcePayPal,
		Reference:      "o-1",
		CommissionRate: fullRate,
	})
	if err != nil {
		t.Fatalf("record after conflict: %v", err)
	}
	if !res.Duplicate || res.Earning.EarningID != first.EarningID {
		t.Fatalf("expected duplicate of %s, got %+v", first.EarningID, res)
	}
	st := h.assertConserved(t, "A1")
	if st.TotalEarned != 10000 || len(st.Earnings) != 1 {
		t.Fatalf("conflict must not add an earning, got %+v", st)
	}
}

func TestConcurrentDeliveriesRecordOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	const deliveries = 8
	results := make([]PaymentEventResult, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.RecordPaymentEvent(ctx, PaymentEvent{
				Source:      domain.SourceStripe,
				Reference:   "sess_same",
				AffiliateID: "A1",
				GrossAmount: 100000,
				Currency:    "usd",
			})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < deliveries; i++ {
		if errs[i] != nil {
			t.Fatalf("delivery %d: %v", i, errs[i])
		}
		if !results[i].Duplicate {
			created++
		}
		if results[i].Earning.EarningID != results[0].Earning.EarningID {
			t.Fatalf("delivery %d saw earning %s, want %s", i, results[i].Earning.EarningID, results[0].Earning.EarningID)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one recorded delivery, got %d", created)
	}
	if st := h.assertConserved(t, "A1"); len(st.Earnings) != 1 || st.TotalEarned != 30000 {
		t.Fatalf("unexpected statement %+v", st)
	}
	if n := countEvents(t, h, domain.EventAffiliateEarningRecorded); n != 1 {
		t.Fatalf("expected one earning event, got %d", n)
	}
}

func TestRunPayoutsWithoutLockReportsConcurrentPayout(t *testing.T) {
	t.Parallel()
	h := newHarnessWithLocker(t, nil)
	ctx := context.Background()
	h.record(t, "A1", "o-1", 60000)
	if report, err := h.svc.RunPayouts(ctx, 50000); err != nil || len(report.Paid) != 1 {
		t.Fatalf("first run: %+v %v", report, err)
	}

	late := h.record(t, "A1", "o-2", 60000)
	h.payouts.setStale(true)
	report, err := h.svc.RunPayouts(ctx, 50000)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(report.Paid) != 0 || len(report.Failed) != 1 || report.Failed[0].Code != "concurrent_payout" {
		t.Fatalf("expected concurrent_payout, got %+v", report)
	}
	payouts, err := h.repos.Payouts.ListByAffiliateID(ctx, "A1")
	if err != nil || len(payouts) != 1 {
		t.Fatalf("conflicting insert must not add a payout, got %d %v", len(payouts), err)
	}
	rows, err := h.repos.Earnings.GetByIDs(ctx, []string{late.EarningID})
	if err != nil || len(rows) != 1 || rows[0].Paid {
		t.Fatalf("late earning must stay unpaid, got %+v %v", rows, err)
	}

	h.payouts.setStale(false)
	report, err = h.svc.RunPayouts(ctx, 50000)
	if err != nil || len(report.Paid) != 1 || report.Paid[0].Amount != 60000 {
		t.Fatalf("retry should pay the late earning, got %+v %v", report, err)
	}
	h.assertConserved(t, "A1")
}

func TestDuplicateDeliveryRestoresLostEarningEvent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.outbox.failNext(1)
	first := h.record(t, "A1", "o-1", 10000)
	if n := countEvents(t, h, domain.EventAffiliateEarningRecorded); n != 0 {
		t.Fatalf("failed enqueue should leave no event, got %d", n)
	}

	for i := 0; i < 2; i++ {
		res, err := h.svc.RecordEarning(context.Background(), RecordEarningInput{
			AffiliateID:    "A1",
			GrossAmount:    10000,
			Source:         domain.SourcePayPal,
			Reference:      "o-1",
			CommissionRate: fullRate,
		})
		if err != nil || !res.Duplicate {
			t.Fatalf("redelivery %d: %+v %v", i, res, err)
		}
	}
	records, err := h.repos.Outbox.FetchUnpublished(context.Background(), 0)
	if err != nil {
		t.Fatalf("fetch outbox: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one earning event after redeliveries, got %d", len(records))
	}
	var env contracts.EventEnvelope
	if err := json.Unmarshal(records[0].Payload, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var payload contracts.AffiliateEarningRecordedPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil || payload.EarningID != first.EarningID {
		t.Fatalf("event should describe %s, got %+v %v", first.EarningID, payload, err)
	}
}
