package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cambix/cambix/internal/app"
	"github.com/cambix/cambix/internal/auth"
	"github.com/cambix/cambix/internal/currency"
	"github.com/cambix/cambix/internal/exchange"
	"github.com/cambix/cambix/internal/lots"
	"github.com/cambix/cambix/internal/observability"
	"github.com/cambix/cambix/internal/platform/cache"
	"github.com/cambix/cambix/internal/platform/db"
	"github.com/cambix/cambix/internal/report"
	"github.com/cambix/cambix/internal/till"
	"github.com/cambix/cambix/migrations"
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

	if err := db.Migrate(ctx, pool, migrations.FS); err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, caches disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	currencyRepo := currency.NewRepository(pool)
	currencyService := currency.NewService(currencyRepo, logger)
	currencyHandler := currency.NewHandler(logger, currencyService)

	tillRepo := till.NewRepository(pool)
	tillService := till.NewService(tillRepo, currencyService, logger, metrics)
	tillHandler := till.NewHandler(logger, tillService)

	exchangeRepo := exchange.NewRepository(pool)
	exchangeService := exchange.NewService(exchangeRepo, currencyService, exchange.Config{
		RateTolerance:     cfg.RateTolerance(),
		CustomerThreshold: cfg.CustomerLimit(),
		TotalTolerance:    cfg.TotalEpsilon(),
	}, logger, metrics)
	exchangeHandler := exchange.NewHandler(logger, exchangeService, tillService)

	lotRepo := lots.NewRepository(pool)
	reportService := report.NewService(tillRepo, exchangeRepo, lotRepo,
		redisClient, cfg.SnapshotTTL, cfg.HomeCurrency, logger)
	reportHandler := report.NewHandler(reportService)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Auth:            auth.NewMiddleware(cfg.JWTSecret),
		CurrencyHandler: currencyHandler,
		TillHandler:     tillHandler,
		ExchangeHandler: exchangeHandler,
		ReportHandler:   reportHandler,
		Metrics:         metrics,
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

	if err := g.Wait(); err != nil {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
