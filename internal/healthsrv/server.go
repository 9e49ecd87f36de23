// Package healthsrv exposes the standard gRPC health service, reporting the
// Q CLI's availability under its own service name.
package healthsrv

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceQCLI is the health service name tracking the Q CLI.
const ServiceQCLI = "qmind.QCLI"

// DefaultInterval is how often the CLI is re-probed.
const DefaultInterval = 30 * time.Second

// Prober reports whether the Q CLI can be invoked.
type Prober interface {
	CheckAvailable(ctx context.Context) bool
}

// Server wraps a gRPC server carrying health and reflection.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	prober   Prober
	interval time.Duration
}

// New creates a server. The overall status is SERVING; ServiceQCLI starts
// UNKNOWN until the first probe.
func New(prober Prober, interval time.Duration) *Server {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		prober:   prober,
		interval: interval,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceQCLI, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
	return s
}

// Refresh probes the CLI once and publishes the result.
func (s *Server) Refresh(ctx context.Context) bool {
	ok := s.prober.CheckAvailable(ctx)
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceQCLI, status)
	return ok
}

// Serve probes on an interval and serves lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Refresh(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	err := s.grpc.Serve(lis)
	cancel()
	<-done
	if err != nil {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}
