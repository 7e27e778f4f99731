package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name reported by the server.
const HealthService = "bookshelf"

// healthServer exposes the gRPC health protocol for orchestrators.
type healthServer struct {
	listener net.Listener
	server   *grpc.Server
	health   *health.Server
}

func newHealthServer(addr string) (*healthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	server := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, h)
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &healthServer{listener: listener, server: server, health: h}, nil
}

// markServing flips both the overall and the named status to SERVING.
func (s *healthServer) markServing() {
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthService, grpc_health_v1.HealthCheckResponse_SERVING)
}

func (s *healthServer) addr() string {
	return s.listener.Addr().String()
}

// serve blocks until ctx ends or the gRPC server fails.
func (s *healthServer) serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.server.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

func (s *healthServer) close() {
	s.health.Shutdown()
	s.server.Stop()
	_ = s.listener.Close()
}
