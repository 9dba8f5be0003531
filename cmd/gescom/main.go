package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gescom-erp/gescom/internal/app"
	"github.com/gescom-erp/gescom/internal/catalog"
	"github.com/gescom-erp/gescom/internal/documents"
	"github.com/gescom-erp/gescom/internal/observability"
	"github.com/gescom-erp/gescom/internal/platform/cache"
	"github.com/gescom-erp/gescom/internal/platform/db"
	"github.com/gescom-erp/gescom/internal/sequence"
	"github.com/gescom-erp/gescom/internal/shared"
	"github.com/gescom-erp/gescom/internal/stock"
	"github.com/gescom-erp/gescom/internal/tenant"
	"github.com/gescom-erp/gescom/internal/uom"
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
		logger.Warn("redis unavailable, on-hand reads fall back to the ledger", slog.Any("error", err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	seqService := sequence.NewService(sequence.NewRepository(pool))
	seqHandler := sequence.NewHandler(logger, seqService, metrics)

	stockService := stock.NewService(stock.NewRepository(pool), redisClient, cfg.StockCacheTTL)
	stockHandler := stock.NewHandler(logger, stockService)

	auditLogger := shared.NewAuditLogger(pool)

	docService := documents.NewService(
		documents.NewRepository(pool),
		tenant.NewRepository(pool),
		catalog.NewRepository(pool),
		uom.NewRepository(pool),
		auditLogger,
		stockService,
	)
	docHandler := documents.NewHandler(logger, docService, metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		DocumentsHandler: docHandler,
		StockHandler:     stockHandler,
		SequenceHandler:  seqHandler,
		Pool:             pool,
		Metrics:          metrics,
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
