package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReorderScan is the task type for the periodic reorder scan.
	TaskReorderScan = "reorder:scan"
	// TaskIdempotencyCleanup is the task type for expiring processed
	// executor keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReorderScanPayload scopes a scan to one warehouse. Zero scans all.
type ReorderScanPayload struct {
	WarehouseID int64 `json:"warehouse_id"`
}

// NewReorderScanTask constructs an Asynq task.
func NewReorderScanTask(payload ReorderScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, data), nil
}

// IdempotencyCleanupPayload bounds the retention window in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
