package grpc

import (
	"context"
	"time"

	"github.com/viralforge/affiliate-ledger/internal/application"
	"google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const watchInterval = 5 * time.Second

// LedgerHealthServer reports SERVING while the ledger store answers reads.
type LedgerHealthServer struct {
	grpc_health_v1.UnimplementedHealthServer
	service *application.Service
}

func NewLedgerHealthServer(service *application.Service) *LedgerHealthServer {
	return &LedgerHealthServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc *LedgerHealthServer) {
	grpc_health_v1.RegisterHealthServer(server, svc)
}

func (s *LedgerHealthServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: s.status(ctx)}, nil
}

func (s *LedgerHealthServer) Watch(_ *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	ctx := stream.Context()
	last := grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		if current := s.status(ctx); current != last {
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: current}); err != nil {
				return err
			}
			last = current
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *LedgerHealthServer) status(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if err := s.service.Ready(ctx); err != nil {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}
