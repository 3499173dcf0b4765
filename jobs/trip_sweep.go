package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/elpiji-erp/elpiji/internal/jobs"
)

// TripSweepJob flags trips stuck IN_PROGRESS past the threshold so an
// operator can force an unload or cancellation. It only reports; it never
// mutates trip state.
type TripSweepJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewTripSweepJob initialises the sweep handler.
func NewTripSweepJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *TripSweepJob {
	return &TripSweepJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the sweep across all tenants.
func (j *TripSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("trip sweep: handler not configured")
	}
	tracker := j.Metrics.Track("trip_sweep")
	var payload TripSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}
	hours := payload.StuckAfterHours
	if hours <= 0 {
		hours = 24
	}
	cutoff := j.clock().Add(-time.Duration(hours) * time.Hour)

	rows, err := j.Pool.Query(ctx, `SELECT tenant_id, id, vehicle_id, started_at
FROM trips
WHERE status='IN_PROGRESS' AND started_at < $1
ORDER BY started_at ASC`, cutoff)
	if err != nil {
		return tracker.End(err)
	}
	defer rows.Close()

	stuck := 0
	for rows.Next() {
		var tenantID, tripID, vehicleID int64
		var startedAt time.Time
		if err := rows.Scan(&tenantID, &tripID, &vehicleID, &startedAt); err != nil {
			return tracker.End(err)
		}
		stuck++
		j.Logger.Warn("trip stuck in progress",
			slog.Int64("tenant_id", tenantID),
			slog.Int64("trip_id", tripID),
			slog.Int64("vehicle_id", vehicleID),
			slog.Time("started_at", startedAt),
			slog.Duration("age", j.clock().Sub(startedAt)),
		)
	}
	if err := rows.Err(); err != nil {
		return tracker.End(err)
	}
	if stuck > 0 {
		j.Metrics.AddAlerts("trip_stuck", stuck)
	}
	return tracker.End(nil)
}
