package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/webitel/sync-engine/internal/config"
	"github.com/webitel/sync-engine/internal/domain/syncstore"
	"github.com/webitel/sync-engine/internal/obs"
	"github.com/webitel/sync-engine/internal/server/auth"
	"github.com/webitel/sync-engine/internal/server/broadcast"
	"github.com/webitel/sync-engine/internal/server/session"
	"github.com/webitel/sync-engine/internal/store/memsync"
	"github.com/webitel/sync-engine/internal/transport/amqp"
	grpctransport "github.com/webitel/sync-engine/internal/transport/grpc"
	"github.com/webitel/sync-engine/internal/transport/httpapi"
	"github.com/webitel/sync-engine/internal/transport/ws"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

func provideLogger(cfg *config.Config) *slog.Logger {
	return obs.NewLogger(obs.LoggerConfig{Level: "info", JSON: true})
}

func provideMetrics() (*obs.Metrics, error) {
	mp := obs.NewMeterProvider(metric.NewManualReader())
	return obs.NewMetrics(mp)
}

func provideTracerProvider() *sdktrace.TracerProvider {
	return obs.NewTracerProvider("sync-engine")
}

func provideStore() syncstore.Store {
	return memsync.New()
}

func provideBroadcastRegistry() *broadcast.Registry {
	return broadcast.NewRegistry()
}

func provideAuth() (auth.Authenticator, auth.Authorizer, auth.Validator) {
	allow := auth.AllowAll{}
	return allow, auth.NewCachedAuthorizer(allow, 4096), allow
}

func provideAMQPRelay(cfg *config.Config, logger *slog.Logger, reg *broadcast.Registry) (*amqp.Relay, error) {
	if cfg.AmqpURI == "" {
		return nil, nil
	}
	return amqp.New(amqp.Config{AmqpURI: cfg.AmqpURI}, logger, reg, cfg.NodeID)
}

func provideSessionDeps(
	cfg *config.Config,
	store syncstore.Store,
	authn auth.Authenticator,
	authz auth.Authorizer,
	validator auth.Validator,
	reg *broadcast.Registry,
	relay *amqp.Relay,
	logger *slog.Logger,
	metrics *obs.Metrics,
	tp *sdktrace.TracerProvider,
) session.Deps {
	var cluster session.ClusterPublisher
	if relay != nil {
		cluster = relay
	}

	return session.Deps{
		Store:     store,
		Authn:     authn,
		Authz:     authz,
		Validator: validator,
		Broadcast: reg,
		Cluster:   cluster,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tp,
		RateLimits: session.RateLimits{
			MaxInboundMessagesPerWindow: cfg.RateLimits.MaxInboundMessagesPerWindow,
			RateWindow:                  cfg.RateLimits.RateWindow,
			MaxEnvelopeBytes:            cfg.RateLimits.MaxEnvelopeBytes,
			CloseOnRateLimit:            cfg.RateLimits.CloseOnRateLimit,
			CloseOnOversize:             cfg.RateLimits.CloseOnOversize,
		},
		SyncLimits: session.SyncLimits{
			DefaultLimit: cfg.SyncLimits.DefaultLimit,
			MinLimit:     cfg.SyncLimits.MinLimit,
			MaxLimit:     cfg.SyncLimits.MaxLimit,
		},
	}
}

func provideWSHandler(logger *slog.Logger, deps session.Deps) *ws.Handler {
	return ws.NewHandler(logger, deps)
}

// Module wires the full server-side composition root.
var Module = fx.Module("sync-engine-server",
	fx.Provide(
		provideLogger,
		provideMetrics,
		provideTracerProvider,
		provideStore,
		provideBroadcastRegistry,
		provideAuth,
		provideAMQPRelay,
		provideSessionDeps,
		provideWSHandler,
	),

	fx.Invoke(registerWSServer, registerAdminServer, registerGRPCServer, registerAMQPRelayLifecycle),
)

func registerWSServer(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, handler *ws.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("WS_SERVER_FAILED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func registerAdminServer(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, store syncstore.Store, reg *broadcast.Registry) {
	router := httpapi.NewRouter(httpapi.Deps{Logger: logger, Store: store, Registry: reg})
	srv := &http.Server{Addr: cfg.AdminAddr, Handler: router}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.AdminAddr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("ADMIN_SERVER_FAILED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func registerGRPCServer(lc fx.Lifecycle, logger *slog.Logger) {
	srv, healthSrv := grpctransport.NewServer(logger)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", ":9090")
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil {
					logger.Error("GRPC_SERVER_FAILED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			healthSrv.Shutdown()
			srv.GracefulStop()
			return nil
		},
	})
}

func registerAMQPRelayLifecycle(lc fx.Lifecycle, relay *amqp.Relay, logger *slog.Logger) {
	if relay == nil {
		logger.Info("AMQP_RELAY_DISABLED")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := relay.Run(context.Background()); err != nil {
					logger.Error("AMQP_RELAY_FAILED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return relay.Close()
		},
	})
}
