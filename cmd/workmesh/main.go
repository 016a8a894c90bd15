package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/workmesh/workmesh/internal/app"
	"github.com/workmesh/workmesh/internal/auth"
	"github.com/workmesh/workmesh/internal/authz"
	"github.com/workmesh/workmesh/internal/escrow"
	"github.com/workmesh/workmesh/internal/eventlog"
	"github.com/workmesh/workmesh/internal/observability"
	"github.com/workmesh/workmesh/internal/payments"
	"github.com/workmesh/workmesh/internal/platform/cache"
	"github.com/workmesh/workmesh/internal/platform/db"
	"github.com/workmesh/workmesh/internal/skills"
	"github.com/workmesh/workmesh/internal/workflow"
	"github.com/workmesh/workmesh/jobs"
)

// parseAPIKeys turns "subject:bcrypt-hash" pairs into auth credentials.
func parseAPIKeys(pairs []string) ([]auth.APIKey, error) {
	var keys []auth.APIKey
	for _, pair := range pairs {
		subjectStr, hash, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("malformed API key entry %q", pair)
		}
		subject, err := strconv.ParseInt(subjectStr, 10, 64)
		if err != nil || subject <= 0 {
			return nil, fmt.Errorf("malformed API key subject %q", subjectStr)
		}
		keys = append(keys, auth.APIKey{Subject: subject, Hash: hash})
	}
	return keys, nil
}

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

	apiKeys, err := parseAPIKeys(cfg.APIKeys)
	if err != nil {
		logger.Error("parse API keys", slog.Any("error", err))
		os.Exit(1)
	}
	authService := auth.NewService(apiKeys, redisClient, cfg.APIKeyTTL)

	metrics := observability.NewMetrics()

	enqueuer, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	events := eventlog.NewService(eventlog.NewPGStore(pool), enqueuer, logger)

	registry := authz.NewRegistry(authz.NewPGStore(pool), events, logger, metrics)
	if err := registry.Bootstrap(ctx, cfg.RootSubject); err != nil {
		logger.Error("bootstrap registry root", slog.Any("error", err))
		os.Exit(1)
	}

	gateway, err := payments.NewGateway(payments.NewPGBalanceStore(pool), payments.Account(cfg.FeeAccount), cfg.FeeBasisPoints, logger)
	if err != nil {
		logger.Error("payments gateway", slog.Any("error", err))
		os.Exit(1)
	}

	ledger := escrow.NewLedger(escrow.NewPGStore(pool), gateway, registry, events, metrics, logger)
	directory := skills.NewDirectory(skills.NewPGStore(pool))
	engine := workflow.NewEngine(workflow.NewPGStore(pool), registry, ledger, directory, events, metrics, cfg.EngineSubject, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Auth:            authService,
		AuthzHandler:    authz.NewHandler(logger, registry),
		EscrowHandler:   escrow.NewHandler(logger, ledger),
		WorkflowHandler: workflow.NewHandler(logger, engine),
		PaymentsHandler: payments.NewHandler(logger, gateway, registry),
		SkillsHandler:   skills.NewHandler(logger, directory),
		EventsHandler:   eventlog.NewHandler(logger, events),
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
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}
