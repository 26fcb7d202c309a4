// Package health — gRPC-сервер проверки здоровья (grpc.health.v1).
//
// Server периодически проверяет зависимости процесса и переводит статус
// между SERVING и NOT_SERVING. Пустое имя сервиса отражает процесс целиком.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/magabrotheeeer/media-relay/internal/lib/sl"
)

// ServiceName — имя, под которым публикуется статус бота.
const ServiceName = "media-relay"

// Pinger — проверяемая зависимость.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server хранит gRPC-сервер и проверки.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	checks   map[string]Pinger
	interval time.Duration
	log      *slog.Logger
}

// New создаёт сервер. interval — период проверки зависимостей.
func New(checks map[string]Pinger, interval time.Duration, log *slog.Logger) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{
		grpc:     gs,
		health:   hs,
		checks:   checks,
		interval: interval,
		log:      log,
	}
}

// Check проверяет зависимости один раз и обновляет статус.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, p := range s.checks {
		pctx, cancel := context.WithTimeout(ctx, s.interval)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			s.log.Warn("dependency is unavailable", slog.String("dependency", name), sl.Err(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve принимает соединения на lis и обновляет статус до отмены ctx.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	const op = "health.Serve"
	s.Check(ctx)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()

	s.log.Info("grpc health server started", slog.String("address", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListenAndServe слушает addr и вызывает Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	const op = "health.ListenAndServe"
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.Serve(ctx, lis)
}
