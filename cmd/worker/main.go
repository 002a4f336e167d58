package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/liana-admin/liana/internal/app"
	"github.com/liana-admin/liana/internal/controlplane"
	jobmetrics "github.com/liana-admin/liana/internal/jobs"
	"github.com/liana-admin/liana/internal/permissions"
	"github.com/liana-admin/liana/jobs"
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

	cpClient := controlplane.NewClient(cfg.ControlPlaneURL, cfg.EnvironmentSecret)
	permCache := permissions.NewCache(cpClient, cfg.PermissionsExpiration, logger)

	warmupJob := jobs.NewPermissionsWarmupJob(permCache, logger, jobmetrics.NewMetrics(nil))

	var cron []jobs.CronRegistration
	if len(cfg.WarmupRenderings) > 0 {
		warmupTask, err := jobs.NewPermissionsWarmupTask(jobs.PermissionsWarmupPayload{RenderingIDs: cfg.WarmupRenderings})
		if err != nil {
			logger.Error("build warmup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{
			Spec:    "*/30 * * * *",
			Task:    warmupTask,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPermissionsWarmup, Handler: warmupJob.Handle},
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
