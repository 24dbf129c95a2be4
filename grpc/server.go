// Package grpc serves the standard gRPC health protocol so orchestrators can
// probe the storefront without going through HTTP.
package grpc

import (
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall "" entry.
const ServiceName = "storefront.Storefront"

type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

func NewHealthServer(logger *zap.Logger) *HealthServer {
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	return &HealthServer{server: server, health: hs, logger: logger}
}

// SetServing flips both the overall and the named service status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Info("gRPC health status changed", zap.String("status", status.String()))
}

// Serve marks the service healthy and blocks until the listener closes.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.SetServing(true)
	return s.server.Serve(lis)
}

// Shutdown reports NOT_SERVING to watchers before draining connections.
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
	s.server.GracefulStop()
	s.logger.Info("gRPC server stopped gracefully")
}
