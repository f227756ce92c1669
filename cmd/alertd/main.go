package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	httpadapter "github.com/couchcryptid/river-alert-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/river-alert-service/internal/adapter/kafka"
	"github.com/couchcryptid/river-alert-service/internal/adapter/nws"
	"github.com/couchcryptid/river-alert-service/internal/adapter/usgs"
	"github.com/couchcryptid/river-alert-service/internal/config"
	"github.com/couchcryptid/river-alert-service/internal/observability"
	"github.com/couchcryptid/river-alert-service/internal/pipeline"
	"github.com/couchcryptid/river-alert-service/internal/store"
)

func main() {
	// Local development convenience; the file is optional.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	entities, err := config.LoadEntities(cfg.EntitiesFile, logger)
	if err != nil {
		logger.Error("failed to load entities", "file", cfg.EntitiesFile, "error", err)
		os.Exit(1)
	}
	logger.Info("entities loaded", "count", len(entities), "file", cfg.EntitiesFile)

	stateStore, err := store.Open(cfg.StateDBPath)
	if err != nil {
		logger.Error("failed to open state store", "path", cfg.StateDBPath, "error", err)
		os.Exit(1)
	}

	writer := kafkaadapter.NewWriter(cfg, logger)
	source := usgs.NewClient(cfg.FetchTimeout, cfg.TrendWindow, cfg.UserAgent, logger)

	// Forecast enrichment is feature-flagged via NWS_CONTACT / FORECAST_ENABLED.
	var forecast pipeline.ForecastSource
	if cfg.ForecastEnabled {
		client := nws.NewClient(cfg.FetchTimeout, cfg.UserAgent, cfg.NWSContact, cfg.ForecastDays, clock, logger)
		forecast = nws.NewCachedSource(client, cfg.ForecastTTL, clock, metrics)
		logger.Info("nws forecast enabled", "days", cfg.ForecastDays, "ttl", cfg.ForecastTTL)
	} else {
		logger.Info("nws forecast disabled")
	}

	runner := pipeline.New(entities, source, forecast, stateStore, writer, logger, metrics, clock, cfg.Workers)

	srv := httpadapter.NewServer(cfg.HTTPAddr, runner, runner, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	metrics.MonitorRunning.Set(1)
	defer metrics.MonitorRunning.Set(0)

	// First cycle immediately; the schedule handles the rest. A slow
	// cycle never overlaps the next one.
	go runner.RunCycle(ctx)

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := scheduler.AddFunc(cfg.CycleSchedule, func() { runner.RunCycle(ctx) }); err != nil {
		logger.Error("failed to schedule cycles", "schedule", cfg.CycleSchedule, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("monitor started", "schedule", cfg.CycleSchedule, "entities", len(entities))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Wait for an in-flight cycle before closing its dependencies.
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached with cycle still running")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := stateStore.Close(); err != nil {
		logger.Error("state store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
