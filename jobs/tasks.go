package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVarianceAlert notifies operations about unload count variances.
	TaskVarianceAlert = "fleet:variance_alert"
	// TaskTripSweep flags trips stuck IN_PROGRESS past the threshold.
	TaskTripSweep = "fleet:trip_sweep"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// VarianceItem is one reconciled difference inside an alert.
type VarianceItem struct {
	ItemID   int64  `json:"item_id"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Variance string `json:"variance"`
	Reason   string `json:"reason"`
}

// VarianceAlertPayload describes an unload that found count variances.
type VarianceAlertPayload struct {
	TenantID  int64          `json:"tenant_id"`
	TripID    int64          `json:"trip_id"`
	VehicleID int64          `json:"vehicle_id"`
	Items     []VarianceItem `json:"items"`
	At        time.Time      `json:"at"`
}

// NewVarianceAlertTask constructs the variance alert task.
func NewVarianceAlertTask(payload VarianceAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVarianceAlert, data), nil
}

// TripSweepPayload parameterises the stuck-trip sweep.
type TripSweepPayload struct {
	// StuckAfterHours marks IN_PROGRESS trips older than this. Zero means
	// the default of 24 hours.
	StuckAfterHours int `json:"stuck_after_hours"`
}

// NewTripSweepTask constructs the trip sweep task.
func NewTripSweepTask(payload TripSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTripSweep, data), nil
}

// IdempotencyCleanupPayload parameterises the key cleanup.
type IdempotencyCleanupPayload struct {
	// MaxAgeHours prunes keys older than this. Zero means 48 hours.
	MaxAgeHours int `json:"max_age_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
