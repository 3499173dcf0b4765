package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/elpiji-erp/elpiji/internal/audit"
	"github.com/elpiji-erp/elpiji/internal/catalog"
	"github.com/elpiji-erp/elpiji/internal/fleet"
	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/observability"
	"github.com/elpiji-erp/elpiji/internal/order"
	"github.com/elpiji-erp/elpiji/internal/stockdoc"
	"github.com/elpiji-erp/elpiji/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	CatalogHandler  *catalog.Handler
	OrderHandler    *order.Handler
	LedgerHandler   *ledger.Handler
	StockDocHandler *stockdoc.Handler
	FleetHandler    *fleet.Handler
	AuditHandler    *audit.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(TenantMiddleware(params.Logger))
		if params.CatalogHandler != nil {
			r.Route("/catalog", params.CatalogHandler.MountRoutes)
		}
		if params.OrderHandler != nil {
			r.Route("/orders", params.OrderHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			r.Route("/stock", params.LedgerHandler.MountRoutes)
		}
		if params.StockDocHandler != nil {
			r.Route("/stock-documents", params.StockDocHandler.MountRoutes)
		}
		if params.FleetHandler != nil {
			params.FleetHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})

	return r
}
