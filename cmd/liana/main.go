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

	"github.com/liana-admin/liana/internal/actions"
	"github.com/liana-admin/liana/internal/app"
	"github.com/liana-admin/liana/internal/controlplane"
	"github.com/liana-admin/liana/internal/observability"
	"github.com/liana-admin/liana/internal/permissions"
	"github.com/liana-admin/liana/internal/platform/cache"
	"github.com/liana-admin/liana/internal/platform/db"
	"github.com/liana-admin/liana/internal/records"
	"github.com/liana-admin/liana/internal/shared"
	"github.com/liana-admin/liana/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()

	cpClient := controlplane.NewClient(cfg.ControlPlaneURL, cfg.EnvironmentSecret)
	permCache := permissions.NewCache(cpClient, cfg.PermissionsExpiration, logger)
	fanout := permissions.NewInvalidationFanout(redisClient, logger)
	if err := fanout.Listen(ctx, permCache); err != nil {
		logger.Error("subscribe invalidations", slog.Any("error", err))
		os.Exit(1)
	}

	checker := permissions.NewChecker(permCache, logger, metrics)
	counter := records.NewScopedCounter(records.NewPGCounter(dbpool, logger, metrics), permCache)

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalStore := actions.NewApprovalStore(redisClient, cfg.PendingApprovalTTL)
	actionService := actions.NewAuthorizationService(checker, permCache, counter, logger)
	actionsHandler := actions.NewHandler(logger, actionService, approvalStore, auditLogger)
	permissionsHandler := permissions.NewHandler(logger, permCache, fanout)

	if len(cfg.WarmupRenderings) > 0 {
		jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn("init job client", slog.Any("error", err))
		} else {
			payload := jobs.PermissionsWarmupPayload{RenderingIDs: cfg.WarmupRenderings}
			if _, err := jobClient.EnqueuePermissionsWarmup(ctx, payload); err != nil {
				logger.Warn("enqueue permissions warmup", slog.Any("error", err))
			}
			if err := jobClient.Close(); err != nil {
				logger.Warn("job client close", slog.Any("error", err))
			}
		}
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ActionsHandler:     actionsHandler,
		PermissionsHandler: permissionsHandler,
		JobHandler:         jobHandler,
		Metrics:            metrics,
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
