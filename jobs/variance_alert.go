package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/elpiji-erp/elpiji/internal/jobs"
)

// VarianceAlertJob surfaces unload count variances to operations. Today it
// writes structured log lines; notification fan-out hangs off the same
// handler.
type VarianceAlertJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewVarianceAlertJob initialises the variance alert handler.
func NewVarianceAlertJob(logger *slog.Logger, metrics *jobmetrics.Metrics) *VarianceAlertJob {
	return &VarianceAlertJob{Logger: logger, Metrics: metrics}
}

// Handle executes the variance alert.
func (j *VarianceAlertJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("variance alert: handler not configured")
	}
	tracker := j.Metrics.Track("variance_alert")
	var payload VarianceAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	for _, item := range payload.Items {
		j.Logger.Warn("stock variance at unload",
			slog.Int64("tenant_id", payload.TenantID),
			slog.Int64("trip_id", payload.TripID),
			slog.Int64("vehicle_id", payload.VehicleID),
			slog.Int64("item_id", item.ItemID),
			slog.String("expected", item.Expected),
			slog.String("actual", item.Actual),
			slog.String("variance", item.Variance),
			slog.String("reason", item.Reason),
		)
		j.Metrics.AddAlerts(item.Reason, 1)
	}
	return tracker.End(nil)
}
