package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/weareasocialyazilim/travelmatch-escrow/internal/api/handler"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/api/middleware"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/api/spec"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/config"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/idempotency"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/repository"
	"github.com/weareasocialyazilim/travelmatch-escrow/internal/service"
)

// Router wires handlers, middleware and services onto a chi mux.
type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	store     *repository.Store
	idemStore *idempotency.Store
	redis     redis.Cmdable

	escrows        *service.EscrowService
	ledger         *service.LedgerService
	accounts       *service.AccountService
	compliance     *service.ComplianceService
	reports        *service.ReportService
	webhooks       *service.WebhookService
	reconciliation *service.ReconciliationService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	store *repository.Store,
	idemStore *idempotency.Store,
	redisClient redis.Cmdable,
	escrows *service.EscrowService,
	ledger *service.LedgerService,
	accounts *service.AccountService,
	compliance *service.ComplianceService,
	reports *service.ReportService,
	webhooks *service.WebhookService,
	reconciliation *service.ReconciliationService,
) *Router {
	return &Router{
		cfg:            cfg,
		logger:         logger,
		db:             db,
		store:          store,
		idemStore:      idemStore,
		redis:          redisClient,
		escrows:        escrows,
		ledger:         ledger,
		accounts:       accounts,
		compliance:     compliance,
		reports:        reports,
		webhooks:       webhooks,
		reconciliation: reconciliation,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	authHandler := handler.NewAuthHandler(api.store)
	userHandler := handler.NewUserHandler(api.store)
	accountHandler := handler.NewAccountHandler(api.accounts)
	transferHandler := handler.NewTransferHandler(api.ledger)
	escrowHandler := handler.NewEscrowHandler(api.escrows)
	complianceHandler := handler.NewComplianceHandler(api.compliance)
	reportHandler := handler.NewReportHandler(api.reports)
	webhookHandler := handler.NewWebhookHandler(api.webhooks)
	adminHandler := handler.NewAdminHandler(api.reconciliation, api.escrows)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/users", userHandler.CreateUser)
		r.Post("/v1/webhooks/provider", webhookHandler.HandleProviderWebhook)
	})

	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

		// Accounts
		r.With(idem).Post("/v1/accounts", accountHandler.Open)
		r.Get("/v1/accounts/{accountID}", accountHandler.Get)
		r.Get("/v1/accounts/{accountID}/entries", accountHandler.Statement)

		// Transfers and external money movement
		r.With(idem).Post("/v1/transfers", transferHandler.Create)
		r.With(idem).Post("/v1/deposits", transferHandler.Deposit)
		r.With(idem).Post("/v1/withdrawals", transferHandler.Withdraw)

		// Escrows
		r.With(idem).Post("/v1/escrows", escrowHandler.CreateHold)
		r.Get("/v1/escrows/{id}", escrowHandler.Get)
		r.With(idem).Post("/v1/escrows/{id}/release", escrowHandler.Release)
		r.With(idem).Post("/v1/escrows/{id}/refund", escrowHandler.Refund)
		r.With(idem).Post("/v1/escrows/{id}/dispute", escrowHandler.Dispute)
		r.With(idem).Post("/v1/escrows/{id}/proof", escrowHandler.Proof)
		r.Get("/v1/escrows/{id}/refunds", escrowHandler.Refunds)

		// Compliance
		r.Post("/v1/compliance/check", complianceHandler.Check)
		r.Get("/v1/compliance/profiles/{userID}", complianceHandler.Profile)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole("admin"))

			r.With(idem).Post("/v1/escrows/{id}/dispute/resolve", escrowHandler.ResolveDispute)

			r.Post("/v1/compliance/profiles/{userID}/block", complianceHandler.Block)
			r.Post("/v1/compliance/profiles/{userID}/unblock", complianceHandler.Unblock)
			r.Post("/v1/compliance/thresholds", complianceHandler.CreateThreshold)
			r.Post("/v1/compliance/rules", complianceHandler.CreateFraudRule)

			r.Get("/v1/reports", reportHandler.List)
			r.Get("/v1/reports/{reportID}", reportHandler.Get)
			r.Post("/v1/reports/{reportID}/status", reportHandler.Resolve)

			r.Put("/v1/users/{userID}/kyc", userHandler.SetKYCStatus)
			r.Post("/v1/admin/reconciliation", adminHandler.RunReconciliation)
			r.Post("/v1/admin/sweep", adminHandler.RunSweep)
		})
	})

	return r
}
