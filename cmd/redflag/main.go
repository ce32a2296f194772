package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/Redflag/internal/api"
	"github.com/MikeSquared-Agency/Redflag/internal/cache"
	"github.com/MikeSquared-Agency/Redflag/internal/config"
	"github.com/MikeSquared-Agency/Redflag/internal/engine"
	"github.com/MikeSquared-Agency/Redflag/internal/hermes"
	"github.com/MikeSquared-Agency/Redflag/internal/metrics"
	"github.com/MikeSquared-Agency/Redflag/internal/refresher"
	"github.com/MikeSquared-Agency/Redflag/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	var db store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		db = pg
		logger.Info("connected to database")
	} else {
		db = store.NewMemoryStore()
		logger.Warn("no database configured, using in-memory store")
	}
	defer db.Close()

	// Hermes (optional)
	var hermesClient hermes.Client
	if cfg.Hermes.URL != "" {
		hc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to hermes, running without events", "error", err)
		} else {
			hermesClient = hc
			defer hc.Close()
			logger.Info("connected to hermes")
		}
	}

	// Weight snapshot cache (optional)
	var snapshotCache cache.SnapshotCache
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisSnapshotCache(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix, cfg.CacheTTL())
		if err != nil {
			logger.Warn("failed to connect to redis, running without snapshot cache", "error", err)
		} else {
			snapshotCache = rc
			defer rc.Close()
			logger.Info("connected to redis")
		}
	}

	m := metrics.New()
	eng := engine.New(db, hermesClient, snapshotCache, m, cfg.Scoring, logger)

	snap, err := eng.LoadCatalog(ctx)
	if err != nil {
		logger.Error("failed to load question catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("question catalog loaded", "questions", snap.Len(), "version", snap.Version)

	// Refresher
	ref, err := refresher.New(eng, hermesClient, cfg.Refresh, logger)
	if err != nil {
		logger.Error("failed to create refresher", "error", err)
		os.Exit(1)
	}
	if err := ref.Start(ctx); err != nil {
		logger.Error("failed to start refresher", "error", err)
		os.Exit(1)
	}
	defer ref.Stop()
	ref.Trigger(refresher.TriggerStartup)
	logger.Info("refresher started", "schedule", cfg.Refresh.Schedule, "on_rating", cfg.Refresh.OnRating)

	// API server
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(eng, ref, cfg.Server.AdminToken, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Metrics server
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           api.NewMetricsRouter(m, hermesClient),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	cancel()

	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
