package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"authgrid.org/internal/obs"
)

const healthProbeInterval = 5 * time.Second

// GRPCServer exposes the standard gRPC health service backed by the same
// readiness probe as /readyz, plus server reflection.
type GRPCServer struct {
	server    *grpc.Server
	health    *health.Server
	readiness readinessChecker
}

func NewGRPCServer(r readinessChecker) *GRPCServer {
	s := &GRPCServer{
		server:    grpc.NewServer(),
		health:    health.NewServer(),
		readiness: r,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	return s
}

// Serve accepts connections until ctx is canceled, re-evaluating readiness on
// an interval and mirroring the result into the health service.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	s.probe(ctx)

	go func() {
		ticker := time.NewTicker(healthProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.probe(ctx)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	return s.server.Serve(lis)
}

func (s *GRPCServer) probe(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	ok := true
	if err := s.readiness.Check(checkCtx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		ok = false
	}
	obs.SetReady(ok)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}

// Stop tears the server down immediately.
func (s *GRPCServer) Stop() {
	s.server.Stop()
}
