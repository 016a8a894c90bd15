package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/workmesh/workmesh/internal/app"
	"github.com/workmesh/workmesh/internal/escrow"
	"github.com/workmesh/workmesh/internal/observability"
	"github.com/workmesh/workmesh/internal/payments"
	"github.com/workmesh/workmesh/internal/platform/db"
	"github.com/workmesh/workmesh/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	dispatcher := jobs.NewDispatcher(cfg.WebhookURLs, logger)
	integrity := jobs.NewIntegrityChecker(
		escrow.NewPGStore(pool),
		payments.NewPGBalanceStore(pool),
		metrics,
		logger,
	)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:  asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:     logger,
		Dispatcher: dispatcher,
		Integrity:  integrity,
		Cron: []jobs.CronRegistration{
			{Spec: "@every 10m", Task: jobs.NewLedgerIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
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
