// Package grpc probes the gRPC health protocol exposed by the server.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = time.Second
	callTimeout    = time.Second
)

// ErrNotServing reports a health status other than SERVING.
var ErrNotServing = errors.New("service is not serving")

// ProbeStage describes where a probe failed.
type ProbeStage string

const (
	// ProbeStageConnect indicates the client could not be created.
	ProbeStageConnect ProbeStage = "connect"
	// ProbeStageHealth indicates the health check never reported SERVING.
	ProbeStageHealth ProbeStage = "health"
)

// ProbeError wraps probe failures with a stage indicator.
type ProbeError struct {
	Stage ProbeStage
	Err   error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e == nil {
		return "gRPC probe error"
	}
	return fmt.Sprintf("gRPC %s error: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClientOptions returns the dial options used by probes.
func ClientOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Probe connects to addr and waits until service reports SERVING or ctx ends.
// With wait unset, a single check decides the outcome.
func Probe(ctx context.Context, addr, service string, wait bool, logf func(string, ...any)) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return &ProbeError{Stage: ProbeStageConnect, Err: errors.New("address is required")}
	}
	conn, err := gogrpc.NewClient(addr, ClientOptions()...)
	if err != nil {
		return &ProbeError{Stage: ProbeStageConnect, Err: err}
	}
	defer conn.Close()

	client := grpc_health_v1.NewHealthClient(conn)
	if !wait {
		if err := check(ctx, client, service); err != nil {
			return &ProbeError{Stage: ProbeStageHealth, Err: err}
		}
		return nil
	}
	if err := WaitForHealth(ctx, client, service, logf); err != nil {
		return &ProbeError{Stage: ProbeStageHealth, Err: err}
	}
	return nil
}

// WaitForHealth polls client with backoff until service is SERVING or ctx ends.
func WaitForHealth(ctx context.Context, client grpc_health_v1.HealthClient, service string, logf func(string, ...any)) error {
	if client == nil {
		return errors.New("health client is not configured")
	}
	backoff := initialBackoff
	for {
		err := check(ctx, client, service)
		if err == nil {
			if logf != nil {
				logf("gRPC health check is SERVING")
			}
			return nil
		}
		if logf != nil {
			logf("waiting for gRPC health: %v", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func check(ctx context.Context, client grpc_health_v1.HealthClient, service string) error {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	if status := resp.GetStatus(); status != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, status)
	}
	return nil
}
