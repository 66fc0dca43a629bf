package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ChatService is the service name whose status tracks the chat dependencies.
const ChatService = "dex.Chat"

// GRPCServer publishes Checker results through grpc.health.v1.
type GRPCServer struct {
	checker  *Checker
	interval time.Duration
	health   *grpchealth.Server
	server   *grpc.Server
}

// NewGRPCServer creates a gRPC server carrying only the health service.
func NewGRPCServer(checker *Checker, interval time.Duration) *GRPCServer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	hs := grpchealth.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{
		checker:  checker,
		interval: interval,
		health:   hs,
		server:   srv,
	}
}

// Refresh runs the checker once and updates the served statuses.
func (g *GRPCServer) Refresh(ctx context.Context) Report {
	report := g.checker.Check(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if !report.Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ChatService, status)
	return report
}

// Serve refreshes statuses on a ticker and serves on lis until ctx is done.
func (g *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	g.Refresh(ctx)

	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				g.health.Shutdown()
				g.server.GracefulStop()
				return
			case <-ticker.C:
				if report := g.Refresh(ctx); !report.Healthy() {
					slog.Warn("Health check degraded", "checks", report.Checks)
				}
			}
		}
	}()

	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}

// Stop stops the server immediately.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.Stop()
}
