package api

import (
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for a relay node.
const ServiceName = "relay"

// HealthServer exposes grpc.health.v1.Health for a relay node.
type HealthServer struct {
	health     *health.Server
	grpcServer *grpc.Server
	listener   net.Listener
	startTime  time.Time

	running bool
	mu      sync.RWMutex
}

// NewHealthServer creates a health server reporting NOT_SERVING until told otherwise.
func NewHealthServer() *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{health: hs}
}

// SetServing flips the reported status of the relay service.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// StartAsync listens on address and serves in the background.
func (s *HealthServer) StartAsync(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.ServeAsync(lis)
}

// ServeAsync serves on an existing listener in the background.
func (s *HealthServer) ServeAsync(lis net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	s.listener = lis
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)

	s.running = true
	s.startTime = time.Now()
	srv := s.grpcServer
	s.mu.Unlock()

	go func() {
		_ = srv.Serve(lis)
	}()
	return nil
}

// Addr returns the listening address, or nil when not started.
func (s *HealthServer) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Uptime returns how long the server has been serving.
func (s *HealthServer) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startTime)
}

// Stop marks every service NOT_SERVING and stops the server.
func (s *HealthServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	s.health.Shutdown()
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}
