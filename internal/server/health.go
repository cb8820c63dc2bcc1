// Package server exposes the daemon's gRPC health service. The overall status
// is SERVING while the scanner is enabled and the store answers pings.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Service names reported next to the overall ("") status.
const (
	ScannerService = "buchhaltung.Scanner"
	StoreService   = "buchhaltung.Store"
)

// StoreChecker pings the store; repository.Store satisfies it.
type StoreChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *zap.SugaredLogger

	mu        sync.Mutex
	scannerUp bool
	storeUp   bool
}

func New(log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	// Reflection for grpcurl
	reflection.Register(gs)

	s := &Server{grpc: gs, health: hs, log: log, storeUp: true}
	s.publish()
	return s
}

// SetScannerRunning follows the scanner toggle.
func (s *Server) SetScannerRunning(running bool) {
	s.mu.Lock()
	s.scannerUp = running
	s.mu.Unlock()
	s.publish()
}

func (s *Server) setStoreUp(up bool) {
	s.mu.Lock()
	changed := s.storeUp != up
	s.storeUp = up
	s.mu.Unlock()
	if changed {
		s.publish()
	}
}

func (s *Server) publish() {
	s.mu.Lock()
	scanner, store := s.scannerUp, s.storeUp
	s.mu.Unlock()

	s.health.SetServingStatus(ScannerService, status(scanner))
	s.health.SetServingStatus(StoreService, status(store))
	s.health.SetServingStatus("", status(scanner && store))
}

func status(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// WatchStore pings the store every interval until ctx is cancelled.
func (s *Server) WatchStore(ctx context.Context, store StoreChecker, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	check := func() {
		if err := store.HealthCheck(ctx, timeout); err != nil {
			if ctx.Err() == nil {
				s.log.Warnw("health.store.ping_failed", "error", err)
				s.setStoreUp(false)
			}
			return
		}
		s.setStoreUp(true)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Serve blocks serving gRPC on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infow("health.serving", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks everything NOT_SERVING and stops the gRPC server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
