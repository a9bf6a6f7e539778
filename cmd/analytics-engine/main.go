package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-analytics/internal/api"
	"github.com/miradorstack/mirador-analytics/internal/cache"
	"github.com/miradorstack/mirador-analytics/internal/config"
	"github.com/miradorstack/mirador-analytics/internal/engine"
	"github.com/miradorstack/mirador-analytics/internal/extractors"
	"github.com/miradorstack/mirador-analytics/internal/metrics"
	"github.com/miradorstack/mirador-analytics/internal/query"
	"github.com/miradorstack/mirador-analytics/internal/repo"
	"github.com/miradorstack/mirador-analytics/internal/services"
	"github.com/miradorstack/mirador-analytics/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting mirador-analytics", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repo.NewPostgresPool(ctx, cfg.Store)
	if err != nil {
		logger.Error("failed to connect to metrics store", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	store := repo.NewPostgresStore(pool, cfg.Store.QueryTimeout, logger)

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled {
		memory := cache.NewMemoryProvider(cfg.Cache.SweepInterval, logger)
		memory.Start()
		defer memory.Close()
		cacheProvider = memory
	}

	ruleEngine, err := engine.NewRuleEngine(cfg.Health.RulesPath, logger)
	if err != nil {
		logger.Error("failed to load health rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	builder := query.NewBuilder()
	executor := query.NewExecutor(store, logger)
	pipeline := engine.NewPipeline(logger, query.NewOptimizer(cfg.Optimizer, cfg.Cache), builder, executor, cacheProvider)
	trends := engine.NewTrendService(logger, builder, executor)
	detector := engine.NewAnomalyDetector(logger, builder, executor,
		extractors.NewMetricExtractor(extractors.ThresholdsFromConfig(cfg.Anomaly)))
	alerts := engine.NewAlertAnalytics(logger, builder, executor, ruleEngine, cfg.Health.Window)

	analytics := services.NewAnalyticsService(logger, pipeline, trends, detector, alerts)

	go detector.Run(ctx, cfg.Anomaly.ScanInterval, cfg.Anomaly.ScanWindow)

	server, err := api.NewServer(cfg.Server, analytics)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()
	server.SetServing(true)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-analytics stopped",
		slog.Duration("time_series_p95", analytics.LatencyP95(services.OpQueryTimeSeries)))
}
