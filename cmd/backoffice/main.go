package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/franchisehq/backoffice/internal/app"
	"github.com/franchisehq/backoffice/internal/catalog"
	"github.com/franchisehq/backoffice/internal/ledger"
	"github.com/franchisehq/backoffice/internal/observability"
	"github.com/franchisehq/backoffice/internal/platform/cache"
	"github.com/franchisehq/backoffice/internal/platform/db"
	"github.com/franchisehq/backoffice/internal/profitloss"
	"github.com/franchisehq/backoffice/internal/reconcile"
	"github.com/franchisehq/backoffice/internal/sales"
	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
	"github.com/franchisehq/backoffice/internal/tenant"
	"github.com/franchisehq/backoffice/internal/transfer"
	"github.com/franchisehq/backoffice/jobs"
)

// warmupQueue adapts the jobs client to the profitloss handler port.
type warmupQueue struct {
	client *jobs.Client
}

func (q warmupQueue) EnqueueWarmup(ctx context.Context, franchiseID string) error {
	_, err := q.client.EnqueueReportWarmup(ctx, jobs.ReportWarmupPayload{FranchiseID: franchiseID})
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	resolver := scope.NewResolver()

	tenantRepo := tenant.NewRepository(pool)
	tenantService := tenant.NewService(tenantRepo, auditLogger)
	tenantHandler := tenant.NewHandler(logger, tenantService)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, resolver, auditLogger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	reportCache := profitloss.NewCache(redisClient, cfg.ReportCacheTTL)
	reportRepo := profitloss.NewRepository(pool)
	reportService := profitloss.NewService(reportRepo, reportCache, resolver, logger)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, idempotencyStore, reportService)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, resolver)

	transferRepo := transfer.NewRepository(pool)
	transferService := transfer.NewService(transferRepo, tenantService, resolver, auditLogger, reportService)
	transferHandler := transfer.NewHandler(logger, transferService)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, resolver, auditLogger, reportService, sales.ServiceConfig{
		RestoreStockOnRefund: cfg.SalesRestoreStockOnRefund,
	})
	salesHandler := sales.NewHandler(logger, salesService)

	importLogs := reconcile.NewLogStore(pool)
	importProcessor := reconcile.NewProcessor(
		catalogService,
		ledgerService,
		salesService,
		transferService,
		importLogs,
		resolver,
		auditLogger,
		logger,
	)
	reconcileHandler := reconcile.NewHandler(logger, importProcessor)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	profitLossHandler := profitloss.NewHandler(logger, reportService, warmupQueue{client: jobClient})

	go func() {
		if err := reportCache.ListenForInvalidation(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("report cache invalidation listener stopped", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Pool:              pool,
		TenantHandler:     tenantHandler,
		CatalogHandler:    catalogHandler,
		LedgerHandler:     ledgerHandler,
		TransferHandler:   transferHandler,
		SalesHandler:      salesHandler,
		ReconcileHandler:  reconcileHandler,
		ProfitLossHandler: profitLossHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
