package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/api"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/api/middleware"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/config"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/db"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/gateway"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/idempotency"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/observability"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	store := repository.NewStore(pool).WithLockTimeout(cfg.LockTimeout)

	provider := gateway.NewMockProvider()
	notifier := gateway.NewLogNotifier()

	reportSvc := service.NewReportService(store)
	complianceSvc := service.NewComplianceService(
		store,
		service.NewStoreKYCProvider(store),
		service.NewMockExchangeRateService(),
		reportSvc,
		cfg.NewAccountCapMicros,
	)
	escrowSvc := service.NewEscrowService(store, complianceSvc, provider).
		WithWindows(cfg.HoldTTL, cfg.ApprovalWindow)
	ledgerSvc := service.NewLedgerService(store, complianceSvc, provider)
	accountSvc := service.NewAccountService(store)
	webhookSvc := service.NewWebhookService(store, escrowSvc, cfg.WebhookHMACKey)
	reconciliationSvc := service.NewReconciliationService(store)
	outboxSvc := service.NewOutboxService(store, notifier)

	sweepWorker := worker.NewSweepWorker(escrowSvc).
		WithInterval(cfg.SweepInterval).
		WithBatchSize(cfg.SweepBatchSize)
	outboxWorker := worker.NewOutboxWorker(outboxSvc).
		WithInterval(cfg.OutboxInterval)
	reconciliationWorker := worker.NewReconciliationWorker(reconciliationSvc).
		WithInterval(cfg.ReconciliationInterval)

	stopSweep := sweepWorker.Run(ctx)
	stopOutbox := outboxWorker.Run(ctx)
	stopReconciliation := reconciliationWorker.Run(ctx)
	logger.Info("workers started",
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("outbox_interval", cfg.OutboxInterval),
		zap.Duration("reconciliation_interval", cfg.ReconciliationInterval),
	)

	router := api.NewRouter(
		cfg, logger, pool, store, idemStore, redisClient,
		escrowSvc, ledgerSvc, accountSvc, complianceSvc,
		reportSvc, webhookSvc, reconciliationSvc,
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopSweep()
	stopOutbox()
	stopReconciliation()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
