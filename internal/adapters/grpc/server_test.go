package grpc

import (
	"context"
	"testing"

	"github.com/viralforge/affiliate-ledger/internal/adapters/memory"
	"github.com/viralforge/affiliate-ledger/internal/application"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestCheckReportsServing(t *testing.T) {
	t.Parallel()
	repos := memory.NewRepositories()
	svc := application.NewService(application.Dependencies{
		Affiliates: repos.Affiliates,
		Earnings:   repos.Earnings,
		Payouts:    repos.Payouts,
		Outbox:     repos.Outbox,
	})
	resp, err := NewLedgerHealthServer(svc).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
}
