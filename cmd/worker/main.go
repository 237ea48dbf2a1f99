package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Ascentul/Ascentul-sub014/internal/app"
	"github.com/Ascentul/Ascentul-sub014/internal/audit"
	"github.com/Ascentul/Ascentul-sub014/internal/clerk"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
	"github.com/Ascentul/Ascentul-sub014/internal/observability"
	"github.com/Ascentul/Ascentul-sub014/internal/platform/db"
	"github.com/Ascentul/Ascentul-sub014/jobs"
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

	roleCache, err := identity.NewCache(cfg.RoleCacheTTL)
	if err != nil {
		logger.Error("init role cache", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	auditService := audit.NewService(audit.NewRepository(pool))
	identityService := identity.NewService(identity.NewRepository(pool), roleCache, auditService, logger)
	clerkClient := clerk.NewClient(cfg.ClerkAPIURL, cfg.ClerkAPIKey, logger)

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

	rolePusher := jobs.NewRolePusher(logger, identityService, clerkClient, auditService, metrics)
	driftScanner := jobs.NewDriftScanner(logger, identityService, clerkClient, jobsClient, metrics)

	driftTask, err := jobs.NewDriftScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build drift scan task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeRolePush, Handler: rolePusher.Handle},
			{Type: jobs.TaskTypeDriftScan, Handler: driftScanner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DriftScanCron, Task: driftTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
