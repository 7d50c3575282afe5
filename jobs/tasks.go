package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
	// TaskReportWarmup pre-populates profit and loss report caches for
	// active franchises.
	TaskReportWarmup = "profitloss:snapshot_warmup"
)

// ReportWarmupPayload narrows the warmup run; empty means all active
// franchises over the previous calendar month.
type ReportWarmupPayload struct {
	FranchiseID string `json:"franchise_id,omitempty"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// NewReportWarmupTask constructs a warmup task.
func NewReportWarmupTask(payload ReportWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportWarmup, data), nil
}
