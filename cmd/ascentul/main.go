package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/Ascentul/Ascentul-sub014/internal/app"
	"github.com/Ascentul/Ascentul-sub014/internal/audit"
	audithttp "github.com/Ascentul/Ascentul-sub014/internal/audit/http"
	"github.com/Ascentul/Ascentul-sub014/internal/auth"
	"github.com/Ascentul/Ascentul-sub014/internal/authz"
	"github.com/Ascentul/Ascentul-sub014/internal/clerk"
	"github.com/Ascentul/Ascentul-sub014/internal/identity"
	"github.com/Ascentul/Ascentul-sub014/internal/impersonate"
	"github.com/Ascentul/Ascentul-sub014/internal/observability"
	"github.com/Ascentul/Ascentul-sub014/internal/platform/cache"
	"github.com/Ascentul/Ascentul-sub014/internal/platform/db"
	"github.com/Ascentul/Ascentul-sub014/internal/reconcile"
	"github.com/Ascentul/Ascentul-sub014/internal/shared"
	"github.com/Ascentul/Ascentul-sub014/jobs"
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

	matrix, err := authz.LoadMatrix()
	if err != nil {
		logger.Error("load permission matrix", slog.Any("error", err))
		os.Exit(1)
	}
	evaluator := authz.NewEvaluator(matrix)

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "ascentul_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	roleCache, err := identity.NewCache(cfg.RoleCacheTTL)
	if err != nil {
		logger.Error("init role cache", slog.Any("error", err))
		os.Exit(1)
	}

	auditService := audit.NewService(audit.NewRepository(pool))
	identityService := identity.NewService(identity.NewRepository(pool), roleCache, auditService, logger)
	impersonateService := impersonate.NewService(logger, identityService, evaluator)

	guard := authz.Middleware{
		Evaluator: evaluator,
		Resolver:  impersonateService,
		Logger:    logger,
		Metrics:   metrics,
	}

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

	clerkClient := clerk.NewClient(cfg.ClerkAPIURL, cfg.ClerkAPIKey, logger)
	locks := shared.NewRedisLock(redisClient, cfg.ReconcileLockTTL)
	reconcileService := reconcile.NewService(logger, identityService, clerkClient, jobsClient, locks, metrics)

	webhook, err := clerk.NewWebhook(logger, identityService, metrics, cfg.ClerkWebhookSecret)
	if err != nil {
		logger.Error("init webhook", slog.Any("error", err))
		os.Exit(1)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		SessionManager:       sessionManager,
		AuthHandler:          auth.NewHandler(logger, auth.NewService(auth.NewRepository(pool)), sessionManager),
		UsersHandler:         identity.NewHandler(logger, identityService, jobsClient),
		AuditHandler:         audithttp.NewHandler(logger, auditService, audit.NewExporter()),
		DiagnosticsHandler:   reconcile.NewHandler(logger, reconcileService),
		ImpersonationHandler: impersonate.NewHandler(logger, impersonateService),
		Webhook:              webhook,
		Guard:                guard,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppRequestTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
