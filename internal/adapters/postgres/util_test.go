package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/viralforge/affiliate-ledger/internal/domain"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   error
		want error
	}{
		{name: "not found", in: gorm.ErrRecordNotFound, want: domain.ErrNotFound},
		{name: "translated duplicate", in: gorm.ErrDuplicatedKey, want: domain.ErrConflict},
		{name: "raw duplicate", in: errors.New(`ERROR: duplicate key value violates unique constraint "affiliate_earnings_source_reference_key"`), want: domain.ErrConflict},
		{name: "connection refused", in: errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), want: domain.ErrStoreUnavailable},
		{name: "canceled", in: context.Canceled, want: context.Canceled},
	}
	for _, tc := range cases {
		if got := mapError(tc.in); !errors.Is(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
	if mapError(nil) != nil {
		t.Fatalf("nil should map to nil")
	}
}

func TestPayoutMapperRoundTripKeepsEarningSet(t *testing.T) {
	t.Parallel()
	in := domain.Payout{PayoutID: "payout_1", AffiliateID: "A1", Sequence: 3, Amount: 55000, EarningIDs: []string{"e1", "e2"}}
	m := fromPayout(in)
	in.EarningIDs[0] = "mutated"
	out := toPayout(m)
	if len(out.EarningIDs) != 2 || out.EarningIDs[0] != "e1" {
		t.Fatalf("expected earning ids to be copied, got %v", out.EarningIDs)
	}
	if out.Applied() {
		t.Fatalf("payout without applied_at must not be applied")
	}
}

func TestEarningMapperPaidStamp(t *testing.T) {
	t.Parallel()
	m := fromEarning(domain.Earning{EarningID: "e1", Source: domain.SourceStripe})
	if m.PayoutID != nil {
		t.Fatalf("unpaid earning must store a null payout id")
	}
	payoutID := "payout_1"
	m.Paid = true
	m.PayoutID = &payoutID
	if got := toEarning(m); got.PayoutID != payoutID || !got.Paid {
		t.Fatalf("unexpected earning %+v", got)
	}
}
