package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/liana-admin/liana/internal/jobs"
	"github.com/liana-admin/liana/internal/permissions"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// PermissionsWarmupJob refreshes the permission cache for a list of
// renderings ahead of traffic.
type PermissionsWarmupJob struct {
	Cache   *permissions.Cache
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPermissionsWarmupJob wires dependencies for the warmup handler.
func NewPermissionsWarmupJob(cache *permissions.Cache, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionsWarmupJob {
	return &PermissionsWarmupJob{
		Cache:   cache,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes permissions warmup tasks. A failed rendering aborts the
// run so the task retries; renderings already warmed stay warm.
func (j *PermissionsWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("permissions warmup: handler not configured")
	}
	var payload PermissionsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPermissionsWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting permissions warmup", slog.Int("renderings", len(payload.RenderingIDs)))

	start := j.now()
	warmed := 0
	for _, renderingID := range payload.RenderingIDs {
		renderCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		err := j.Cache.Refresh(renderCtx, renderingID, permissions.RefreshOptions{})
		cancel()
		if err != nil {
			resultErr = err
			logger.Error("warm rendering", slog.String("rendering", renderingID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed permissions warmup", slog.Int("warmed", warmed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *PermissionsWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPermissionsWarmup))
	}
	return slog.Default().With(slog.String("job", TaskPermissionsWarmup))
}

func (j *PermissionsWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PermissionsWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
