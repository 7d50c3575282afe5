package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/franchisehq/backoffice/internal/jobs"
	"github.com/franchisehq/backoffice/internal/profitloss"
)

// ReportWarmupJob pre-populates profit and loss caches for active
// franchises so the morning dashboard load hits warm entries.
type ReportWarmupJob struct {
	Reports *profitloss.Service
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReportWarmupJob wires dependencies for the warmup handler.
func NewReportWarmupJob(reports *profitloss.Service, pool *pgxpool.Pool, logger *slog.Logger) *ReportWarmupJob {
	return &ReportWarmupJob{
		Reports: reports,
		Pool:    pool,
		Logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskReportWarmup tasks.
func (j *ReportWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil {
		return errors.New("report warmup: handler not configured")
	}
	var payload ReportWarmupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskReportWarmup)

	now := j.now()
	to := now.Truncate(24 * time.Hour)
	from := to.AddDate(0, -1, 0)

	franchises, err := j.targetFranchises(ctx, payload)
	if err != nil {
		j.logger().Error("load warmup franchises", slog.Any("error", err))
		return tracker.End(err)
	}
	if len(franchises) == 0 {
		j.logger().Info("no active franchises to warm")
		return tracker.End(nil)
	}

	warmed := 0
	for _, franchiseID := range franchises {
		warmCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		err := j.Reports.Warm(warmCtx, franchiseID, from, to)
		cancel()
		if err != nil {
			j.logger().Error("warm franchise", slog.String("franchise_id", franchiseID.String()), slog.Any("error", err))
			return tracker.End(err)
		}
		warmed++
	}
	j.logger().Info("completed report warmup", slog.Int("franchises", warmed), slog.Duration("duration", time.Since(now)))
	return tracker.End(nil)
}

func (j *ReportWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReportWarmupJob) targetFranchises(ctx context.Context, payload ReportWarmupPayload) ([]uuid.UUID, error) {
	if payload.FranchiseID != "" {
		id, err := uuid.Parse(payload.FranchiseID)
		if err != nil {
			return nil, err
		}
		return []uuid.UUID{id}, nil
	}
	if j.Pool == nil {
		return nil, errors.New("report warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `SELECT id FROM franchises WHERE status = 'active' ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (j *ReportWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReportWarmup))
	}
	return slog.Default().With(slog.String("job", TaskReportWarmup))
}

func (j *ReportWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
