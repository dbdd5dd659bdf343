// Package jobs hosts the background maintenance tasks processed by the
// asynq worker.
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
	// TaskOverdueScan refreshes the overdue exposure gauges.
	TaskOverdueScan = "finance:overdue_scan"
)

// IdempotencyCleanupPayload configures the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// OverdueScanPayload is currently empty; the scan always covers both kinds.
type OverdueScanPayload struct{}

// NewOverdueScanTask constructs the overdue scan task.
func NewOverdueScanTask() (*asynq.Task, error) {
	data, err := json.Marshal(OverdueScanPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, data), nil
}
