package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldserve/internal/api"
	"fieldserve/internal/config"
	"fieldserve/internal/database"
	"fieldserve/internal/domain"
	"fieldserve/internal/events"
	"fieldserve/internal/export"
	"fieldserve/internal/logging"
	"fieldserve/internal/metrics"
	"fieldserve/internal/payment"
	"fieldserve/internal/repository"
	"fieldserve/internal/service"
	"fieldserve/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const balanceCacheTTL = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache := buildBalanceCache(redisClient, &logger)

	gateway := payment.NewClient(cfg.Gateway, &logger)
	eventBus := events.NewEventBus()

	ledgerService := service.NewLedgerService(db, cache, gateway, eventBus, &logger)
	pricing := service.NewPricing(cfg.Marketplace.Coupons)
	jobService := service.NewJobService(db, pricing, int64(cfg.Marketplace.PortalFeePercent), eventBus, &logger)
	bidService := service.NewBidService(db, cfg.Marketplace.BidFee, eventBus, &logger)
	bookingService := service.NewBookingService(db, ledgerService, gateway, service.ProportionalRefundPolicy{}, eventBus, &logger)

	reconciler := worker.NewReconciler(
		ledgerService, bookingService, jobService,
		worker.RetryPolicy{MaxRetries: cfg.Worker.MaxRetries},
		redisClient,
		time.Duration(cfg.Worker.PollIntervalSeconds)*time.Second,
		cfg.Worker.BatchSize,
		&logger,
	)

	exporter := export.NewExporter(db, cfg.Exports.Path, &logger)

	httpServer := api.NewHTTPServer(cfg.API, jobService, bidService, bookingService, ledgerService, gateway, exporter, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, &logger)
	go reconciler.Start(ctx)

	return startServer(ctx, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "api-main")

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// buildBalanceCache prefers redis with an in-memory fallback; without redis
// the process runs on memory alone.
func buildBalanceCache(redisClient *redis.Client, logger *zerolog.Logger) domain.BalanceCache {
	memory := repository.NewMemoryBalanceCache(balanceCacheTTL)
	if redisClient == nil {
		return memory
	}
	primary := repository.NewRedisBalanceCache(redisClient, balanceCacheTTL)
	return repository.NewFailoverBalanceCache(primary, memory, logger)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServer(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
