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
	"golang.org/x/sync/errgroup"

	"github.com/loomworks/millstock/internal/app"
	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/masterdata/machines"
	"github.com/loomworks/millstock/internal/platform/cache"
	"github.com/loomworks/millstock/internal/platform/db"
	"github.com/loomworks/millstock/internal/procurement"
	"github.com/loomworks/millstock/internal/production"
	"github.com/loomworks/millstock/internal/reconcile"
	"github.com/loomworks/millstock/internal/rolls"
	"github.com/loomworks/millstock/internal/sales"
	"github.com/loomworks/millstock/jobs"
)

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
		logger.Error("connect postgres", slog.Any("error", err))
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

	invalidator := ledger.NewRedisInvalidator(redisClient, logger)

	rollsRepo := rolls.NewRepository(pool)
	rollsService := rolls.NewService(rollsRepo, logger)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, rollsService, invalidator, logger)

	machinesRepo := machines.NewRepository(pool)
	machinesService := machines.NewService(machinesRepo)

	productionRepo := production.NewRepository(pool)
	productionService := production.NewService(productionRepo, machinesService, ledgerService, ledgerService,
		production.Config{LossThresholdPct: cfg.LossThresholdPct}, logger)

	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(procurementRepo, ledgerService, logger)

	salesRepo := sales.NewRepository(pool)
	salesService := sales.NewService(salesRepo, ledgerService, logger)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		LedgerHandler:      ledger.NewHandler(logger, ledgerService),
		RollsHandler:       rolls.NewHandler(logger, rollsService),
		ProductionHandler:  production.NewHandler(logger, productionService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		SalesHandler:       sales.NewHandler(logger, salesService),
		MachinesHandler:    machines.NewHandler(logger, machinesService),
		ReconcileHandler:   reconcile.NewHandler(logger, jobsClient),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}
