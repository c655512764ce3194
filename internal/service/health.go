package service

import (
	"context"
	"net"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/devsjc/batmon/internal/telemetry"
)

// ExportServiceName is the health-checked service name for the CSV export.
const ExportServiceName = "batmon.TelemetryExport"

// HealthServer reports over gRPC whether the telemetry store is reachable.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	store    telemetry.Store
	interval time.Duration
}

func NewHealthServer(store telemetry.Store, interval time.Duration) *HealthServer {
	logger := interceptorLogger(log.Logger)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(logger),
			recovery.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(logger),
			recovery.StreamServerInterceptor(),
		),
	)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	reflection.Register(s)

	// Unknown until the first ping.
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ExportServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{server: s, health: hs, store: store, interval: interval}
}

// Serve accepts gRPC connections on lis until Stop is called.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.server.Serve(lis)
}

// Watch pings the store every interval and publishes the result, until ctx ends.
func (h *HealthServer) Watch(ctx context.Context) {
	h.check(ctx)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check(ctx)
		}
	}
}

func (h *HealthServer) check(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, h.interval)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		if parent.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("telemetry store unreachable")
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ExportServiceName, status)
}

// Stop marks every service as not serving and stops the gRPC server gracefully.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}

// interceptorLogger adapts zerolog to the go-grpc-middleware logging interface.
func interceptorLogger(l zerolog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l := l.With().Fields(fields).Logger()

		switch lvl {
		case logging.LevelDebug:
			l.Debug().Msg(msg)
		case logging.LevelInfo:
			l.Info().Msg(msg)
		case logging.LevelWarn:
			l.Warn().Msg(msg)
		case logging.LevelError:
			l.Error().Msg(msg)
		default:
			l.Info().Msg(msg)
		}
	})
}
