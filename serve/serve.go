package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zero-day-ai/worldsync"
)

// ServiceName is the health service name worldsyncd reports under, in
// addition to the server-wide "" entry.
const ServiceName = "worldsync"

// Config holds the listener settings.
type Config struct {
	// Port is the TCP port to listen on. Zero picks a free port.
	Port int

	// GracefulTimeout bounds the wait for active RPCs on shutdown.
	// Default: 30 seconds
	GracefulTimeout time.Duration

	// TLSCertFile and TLSKeyFile enable TLS when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultConfig returns the configuration used for local development.
func DefaultConfig() *Config {
	return &Config{
		Port:            50051,
		GracefulTimeout: 30 * time.Second,
	}
}

// Server wraps a gRPC server with the health service registered.
type Server struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	config       *Config
	healthServer *health.Server
	logger       *slog.Logger
}

// NewServer binds the listener and registers the health service. Every
// service starts NOT_SERVING until a monitor reports otherwise.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, worldsync.NewConfigurationError("serve.NewServer",
			fmt.Errorf("failed to listen on port %d: %w", cfg.Port, err))
	}

	var opts []grpc.ServerOption
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			listener.Close()
			return nil, worldsync.NewConfigurationError("serve.NewServer",
				fmt.Errorf("failed to load TLS credentials: %w", err))
		}
		opts = append(opts, grpc.Creds(creds))
	}

	grpcServer := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		grpcServer:   grpcServer,
		listener:     listener,
		config:       cfg,
		healthServer: healthServer,
		logger:       logger.With("component", "serve"),
	}, nil
}

// GRPCServer returns the underlying server for registering more services.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// HealthServer returns the health service for status updates.
func (s *Server) HealthServer() *health.Server {
	return s.healthServer
}

// Serve blocks until ctx is cancelled or the server fails. On cancellation
// it stops gracefully and returns ctx.Err().
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	s.logger.Info("health server listening", "port", s.Port())

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Stop terminates active RPCs immediately.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// GracefulStop marks every service NOT_SERVING, then waits for active RPCs
// up to GracefulTimeout before forcing a stop.
func (s *Server) GracefulStop() {
	s.healthServer.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("health server stopped gracefully")
	case <-time.After(s.config.GracefulTimeout):
		s.logger.Warn("graceful shutdown timeout, forcing stop", "timeout", s.config.GracefulTimeout)
		s.grpcServer.Stop()
	}
}

// Port returns the bound port, which differs from Config.Port when that
// was zero.
func (s *Server) Port() int {
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.config.Port
}
