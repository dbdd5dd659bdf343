package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vendaflow/vendaflow/internal/app"
	"github.com/vendaflow/vendaflow/internal/finance"
	"github.com/vendaflow/vendaflow/internal/ledger"
	"github.com/vendaflow/vendaflow/internal/observability"
	"github.com/vendaflow/vendaflow/internal/platform/cache"
	"github.com/vendaflow/vendaflow/internal/platform/db"
	"github.com/vendaflow/vendaflow/internal/receipts"
	"github.com/vendaflow/vendaflow/internal/shared"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

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

	registerLock := shared.NewLock(redisClient)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	ledgerStore := ledger.NewStore(pool, registerLock, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerStore)

	receiptStore, err := receipts.NewFileStore(cfg.ReceiptDir, cfg.ReceiptMaxBytes)
	if err != nil {
		logger.Error("init receipt store", slog.Any("error", err))
		os.Exit(1)
	}
	receiptsHandler := receipts.NewHandler(logger, receiptStore, cfg.ReceiptMaxBytes)

	financeRepo := finance.NewRepository(pool)
	financeService := finance.NewService(financeRepo, logger)
	recorder := finance.NewRecorder(financeRepo, ledgerStore, idempotencyStore, logger, metrics, cfg.LedgerTimeout)
	financeHandler := finance.NewHandler(logger, financeService, recorder, receiptStore)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		FinanceHandler:  financeHandler,
		LedgerHandler:   ledgerHandler,
		ReceiptsHandler: receiptsHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
