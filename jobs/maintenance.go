package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/franchisehq/backoffice/internal/jobs"
	"github.com/franchisehq/backoffice/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// IdempotencyCleanupJob prunes idempotency keys past their retention.
type IdempotencyCleanupJob struct {
	Store   *shared.IdempotencyStore
	TTL     time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob wires dependencies for the cleanup handler.
func NewIdempotencyCleanupJob(store *shared.IdempotencyStore, ttl time.Duration, logger *slog.Logger) *IdempotencyCleanupJob {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &IdempotencyCleanupJob{Store: store, TTL: ttl, Logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	tracker := j.metrics().Track(TaskIdempotencyCleanup)
	start := time.Now()
	if err := j.Store.Cleanup(ctx, j.TTL); err != nil {
		j.logger().Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger().Info("idempotency cleanup done", slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *IdempotencyCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IdempotencyCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyCleanup))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyCleanup))
}
