package feed

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server wraps the gRPC server
type Server struct {
	grpcServer    *grpc.Server
	health        *health.Server
	streamManager *StreamManager
	port          string
	log           *slog.Logger
}

// NewServer creates and configures a new gRPC server
func NewServer(port string, log *slog.Logger) *Server {
	log = log.With("component", "feed")
	streamManager := NewStreamManager()

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&ServiceDesc, NewService(streamManager, log))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		grpcServer:    grpcServer,
		health:        healthServer,
		streamManager: streamManager,
		port:          port,
		log:           log,
	}
}

// Start listens on the configured port and serves until Stop
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC server starting", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("gRPC server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.log.Info("stopping gRPC server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.log.Info("gRPC server stopped")
}

// StreamManager returns the stream manager
func (s *Server) StreamManager() *StreamManager {
	return s.streamManager
}

// Publish broadcasts an event to every subscriber. Slow subscribers miss it.
func (s *Server) Publish(event Event) {
	if err := s.streamManager.Broadcast(&event); err != nil {
		s.log.Warn("release event not delivered to all consumers",
			"action", event.Action, "application", event.Application, "version", event.Version, "error", err)
	}
}
