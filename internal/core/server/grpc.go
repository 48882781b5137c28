// Package server exposes SDK component health over gRPC.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/relaykit/internal/core/bootstrap"
	"github.com/solatis/relaykit/internal/core/config"
	"github.com/solatis/relaykit/internal/types"
)

// ServiceName is the health service name reported for a component.
func ServiceName(c types.Component) string {
	return "relaykit." + string(c)
}

// GRPCServer manages gRPC server lifecycle.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	config *config.RuntimeConfig
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewGRPCServer creates the health server. Every service starts NOT_SERVING
// until Sync publishes a run result.
func NewGRPCServer(cfg *config.RuntimeConfig, logger *slog.Logger) (*GRPCServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "health")

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	for _, c := range types.Components {
		healthServer.SetServingStatus(ServiceName(c), grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}

	return &GRPCServer{
		server: server,
		health: healthServer,
		config: cfg,
		logger: logger,
	}, nil
}

// Sync publishes a run result: "" is SERVING iff the SDK is running, each
// component service iff that component is Running.
func (s *GRPCServer) Sync(res bootstrap.RunResult) {
	s.health.SetServingStatus("", servingStatus(res.OverallRunning))
	for _, c := range types.Components {
		s.health.SetServingStatus(ServiceName(c), servingStatus(res.States[c] == bootstrap.Running))
	}
}

func servingStatus(ok bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if ok {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
		return resp, err
	}
}

// Listen binds the configured address. Start calls it when needed.
func (s *GRPCServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	addr := net.JoinHostPort(s.config.HealthHost, fmt.Sprint(s.config.HealthPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start binds the listener if needed and serves until Shutdown.
func (s *GRPCServer) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	s.logger.Info("health server listening", "addr", listener.Addr().String())
	return s.server.Serve(listener)
}

// Shutdown gracefully stops server with 30-second timeout.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
