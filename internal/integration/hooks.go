package integration

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/elpiji-erp/elpiji/internal/fleet"
	"github.com/elpiji-erp/elpiji/internal/observability"
	"github.com/elpiji-erp/elpiji/internal/shared"
	"github.com/elpiji-erp/elpiji/internal/stockdoc"
	"github.com/elpiji-erp/elpiji/jobs"
)

// AlertEnqueuer is the slice of the job client the hooks need.
type AlertEnqueuer interface {
	EnqueueVarianceAlert(ctx context.Context, payload jobs.VarianceAlertPayload) (*asynq.TaskInfo, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Hooks bridges domain events into the audit trail, metrics and the job
// queue. Every hook is best effort: a failed side effect is logged and
// dropped, never propagated back into the emitting transaction's caller.
type Hooks struct {
	logger  *slog.Logger
	audit   AuditPort
	alerts  AlertEnqueuer
	metrics *observability.Metrics
}

// NewHooks builds Hooks. Any dependency may be nil; the matching side
// effect is skipped.
func NewHooks(logger *slog.Logger, audit AuditPort, alerts AlertEnqueuer, metrics *observability.Metrics) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{logger: logger, audit: audit, alerts: alerts, metrics: metrics}
}

// DocumentPosted implements stockdoc.EventPort.
func (h *Hooks) DocumentPosted(ctx context.Context, event stockdoc.DocumentPostedEvent) {
	if h == nil {
		return
	}
	h.metrics.DocumentPosted(string(event.Type))
	if h.audit != nil {
		if err := h.audit.Record(ctx, shared.AuditLog{
			ActorID:  event.ActorID,
			Action:   "stockdoc:posted",
			Entity:   "stock_document",
			EntityID: event.Number,
			Meta: map[string]any{
				"type":      event.Type,
				"ref_type":  event.RefType,
				"ref_id":    event.RefID,
				"total_qty": event.TotalQty.String(),
			},
			At: event.At,
		}); err != nil {
			h.logger.Warn("audit document posted", slog.Any("error", err))
		}
	}
}

// DocumentCancelled implements stockdoc.EventPort.
func (h *Hooks) DocumentCancelled(ctx context.Context, event stockdoc.DocumentCancelledEvent) {
	if h == nil || h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, shared.AuditLog{
		ActorID:  event.ActorID,
		Action:   "stockdoc:cancelled",
		Entity:   "stock_document",
		EntityID: event.Number,
		Meta: map[string]any{
			"type":        event.Type,
			"compensated": event.Compensated,
			"reason":      event.Reason,
		},
		At: event.At,
	}); err != nil {
		h.logger.Warn("audit document cancelled", slog.Any("error", err))
	}
}

// VarianceDetected implements fleet.VarianceSink.
func (h *Hooks) VarianceDetected(ctx context.Context, event fleet.VarianceEvent) {
	if h == nil {
		return
	}
	h.metrics.TripVariance()
	if h.alerts == nil {
		return
	}
	payload := jobs.VarianceAlertPayload{
		TenantID:  shared.TenantFromContext(ctx),
		TripID:    event.TripID,
		VehicleID: event.VehicleID,
		At:        event.At,
	}
	for _, v := range event.Variances {
		payload.Items = append(payload.Items, jobs.VarianceItem{
			ItemID:   v.ItemID,
			Expected: v.Expected.String(),
			Actual:   v.Actual.String(),
			Variance: v.Variance.String(),
			Reason:   v.Reason,
		})
	}
	if _, err := h.alerts.EnqueueVarianceAlert(ctx, payload); err != nil {
		h.logger.Warn("enqueue variance alert",
			slog.Int64("trip_id", event.TripID),
			slog.Any("error", err))
	}
}
