// Package grpc exposes a standard gRPC health-checking service alongside
// the websocket data plane, so orchestrators (Kubernetes, consul) can
// probe process health the same way they would any other gRPC service.
// The sync protocol itself stays JSON-over-websocket; this package
// carries no generated sync-protocol stubs.
package grpc

import (
	"context"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a *grpc.Server with recovery and request logging
// interceptors installed and the standard health service registered.
// The returned *health.Server is kept so callers can flip SERVING to
// NOT_SERVING during graceful shutdown.
func NewServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(),
			logging.UnaryServerInterceptor(interceptorLogger(logger)),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(),
			logging.StreamServerInterceptor(interceptorLogger(logger)),
		),
	)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(srv, healthSrv)
	healthSrv.SetServingStatus("sync-engine", healthpb.HealthCheckResponse_SERVING)

	return srv, healthSrv
}

func interceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		args := append([]any{"grpc_level", lvl.String()}, fields...)
		l.Log(ctx, slog.LevelInfo, msg, args...)
	})
}
