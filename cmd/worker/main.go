package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/cambix/cambix/internal/app"
	"github.com/cambix/cambix/internal/currency"
	"github.com/cambix/cambix/internal/exchange"
	"github.com/cambix/cambix/internal/lots"
	"github.com/cambix/cambix/internal/platform/cache"
	"github.com/cambix/cambix/internal/platform/db"
	"github.com/cambix/cambix/internal/ratefeed"
	"github.com/cambix/cambix/internal/report"
	"github.com/cambix/cambix/internal/till"
	"github.com/cambix/cambix/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	currencyRepo := currency.NewRepository(pool)
	currencyService := currency.NewService(currencyRepo, logger)

	feedClient := ratefeed.NewClient(cfg.RateFeedURL, cfg.RateFeedTimeout)
	feedService := ratefeed.NewService(feedClient, redisClient, currencyService, logger)
	ratesJob := jobs.NewRatesRefreshJob(feedService, logger)

	tillRepo := till.NewRepository(pool)
	exchangeRepo := exchange.NewRepository(pool)
	lotRepo := lots.NewRepository(pool)
	reportService := report.NewService(tillRepo, exchangeRepo, lotRepo,
		redisClient, cfg.SnapshotTTL, cfg.HomeCurrency, logger)
	warmupJob := jobs.NewReportWarmupJob(reportService, logger)

	warmupTask, err := jobs.NewReportWarmupTask(jobs.ReportWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	cron := []jobs.CronRegistration{
		{Spec: "*/5 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(2)}},
	}
	if cfg.RateFeedURL != "" {
		cron = append(cron, jobs.CronRegistration{
			Spec:    "@every " + cfg.RateFeedInterval.String(),
			Task:    jobs.NewRatesRefreshTask(),
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskRatesRefresh, Handler: ratesJob.Handle},
			{Type: jobs.TaskReportWarmup, Handler: warmupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
