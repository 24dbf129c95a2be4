package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	s := NewHealthServer(zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- s.Serve(lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) error = %v", service, err)
		}
		return resp.GetStatus()
	}

	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, got %v", got)
	}
	if got := check(ServiceName); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING for %s, got %v", ServiceName, got)
	}

	s.SetServing(false)
	if got := check(ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING, got %v", got)
	}

	s.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("Serve() did not return after Shutdown")
	}
}
