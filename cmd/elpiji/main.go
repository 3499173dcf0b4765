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
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/elpiji-erp/elpiji/internal/app"
	"github.com/elpiji-erp/elpiji/internal/audit"
	"github.com/elpiji-erp/elpiji/internal/catalog"
	"github.com/elpiji-erp/elpiji/internal/fleet"
	"github.com/elpiji-erp/elpiji/internal/integration"
	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/observability"
	"github.com/elpiji-erp/elpiji/internal/order"
	"github.com/elpiji-erp/elpiji/internal/platform/cache"
	"github.com/elpiji-erp/elpiji/internal/platform/db"
	"github.com/elpiji-erp/elpiji/internal/shared"
	"github.com/elpiji-erp/elpiji/internal/stockdoc"
	"github.com/elpiji-erp/elpiji/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis connect", slog.Any("error", err))
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

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

	hooks := integration.NewHooks(logger, auditLogger, jobClient, metrics)

	catalogRepo := catalog.NewRepository(dbpool)
	catalogLookup := catalog.NewCachedLookup(catalogRepo, redisClient, cfg.CatalogCacheTTL)
	catalogHandler := catalog.NewHandler(logger, catalogLookup)

	decomposer := order.NewDecomposer(catalogLookup)
	orderHandler := order.NewHandler(logger, decomposer)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	stockDocRepo := stockdoc.NewRepository(dbpool)
	stockDocService := stockdoc.NewService(stockDocRepo, hooks, auditLogger)
	stockDocHandler := stockdoc.NewHandler(logger, stockDocService, idempotencyStore)

	warnThreshold := decimal.NewFromInt(int64(cfg.CapacityWarnThreshold))
	fleetAdapter := fleet.NewAdapter(stockDocService, catalogLookup, warnThreshold)
	fleetRepo := fleet.NewRepository(dbpool)
	orderSource := order.NewPlanningSource(dbpool, decomposer)
	fleetService := fleet.NewService(fleetRepo, fleetAdapter, orderSource, catalogLookup, hooks, auditLogger)
	fleetHandler := fleet.NewHandler(logger, fleetService)

	auditService := audit.NewService(audit.NewRepository(dbpool))
	auditHandler := audit.NewHandler(logger, auditService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		CatalogHandler:  catalogHandler,
		OrderHandler:    orderHandler,
		LedgerHandler:   ledgerHandler,
		StockDocHandler: stockDocHandler,
		FleetHandler:    fleetHandler,
		AuditHandler:    auditHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
