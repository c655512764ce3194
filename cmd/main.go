package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devsjc/batmon/internal/config"
	"github.com/devsjc/batmon/internal/database/dummy"
	dbpg "github.com/devsjc/batmon/internal/database/postgres"
	"github.com/devsjc/batmon/internal/service"
	"github.com/devsjc/batmon/internal/telemetry"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	// Set logging level based on environment
	zerolog.SetGlobalLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug().Str("type", cfg.DatabaseType).Msg("Connecting to backend")
	var store telemetry.Store
	switch cfg.DatabaseType {
	case config.DatabaseTypeDummy:
		store = dummy.NewTelemetryStore(dummy.DefaultConfig())
	default:
		pgStore, err := dbpg.NewTelemetryStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Unable to connect to database. Ensure DATABASE_URL is set correctly")
		}
		defer pgStore.Close()
		store = pgStore
	}

	exporter := telemetry.NewExporter(store, cfg.ExportBufferLines)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           service.NewServer(exporter, cfg.Origins()),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	healthServer := service.NewHealthServer(store, cfg.HealthInterval())
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	go healthServer.Watch(ctx)
	go func() {
		log.Info().Str("addr", cfg.GRPCAddr).Msg("Starting GRPC health server")
		if err := healthServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("GRPC health server stopped")
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server did not drain in time")
	}
	healthServer.Stop()
}
