package fleet

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/platform/httpx"
	"github.com/elpiji-erp/elpiji/internal/shared"
	"github.com/elpiji-erp/elpiji/internal/stockdoc"
)

// Handler wires HTTP endpoints for vehicles and trips.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers fleet routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/vehicles", func(r chi.Router) {
		r.Post("/", h.handleCreateVehicle)
		r.Get("/", h.handleListVehicles)
		r.Get("/{id}", h.handleGetVehicle)
	})
	r.Route("/trips", func(r chi.Router) {
		r.Post("/", h.handleCreateTrip)
		r.Get("/", h.handleListTrips)
		r.Get("/{id}", h.handleGetTrip)
		r.Post("/{id}/plan", h.handlePlan)
		r.Post("/{id}/load", h.handleLoad)
		r.Post("/{id}/start", h.handleStart)
		r.Post("/{id}/deliveries", h.handleDelivery)
		r.Post("/{id}/unload", h.handleUnload)
		r.Post("/{id}/cancel", h.handleCancel)
	})
}

type createVehicleRequest struct {
	Code           string          `json:"code" validate:"required"`
	Name           string          `json:"name"`
	PlateNumber    string          `json:"plate_number"`
	CapacityWeight decimal.Decimal `json:"capacity_weight"`
	CapacityVolume decimal.Decimal `json:"capacity_volume"`
}

func (h *Handler) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req createVehicleRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	vehicle, err := h.service.CreateVehicle(r.Context(), Vehicle{
		Code:           req.Code,
		Name:           req.Name,
		PlateNumber:    req.PlateNumber,
		CapacityWeight: req.CapacityWeight,
		CapacityVolume: req.CapacityVolume,
	})
	if err != nil {
		h.logger.Error("create vehicle failed", slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, vehicle)
}

func (h *Handler) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	vehicle, err := h.service.GetVehicle(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, vehicle)
}

func (h *Handler) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.service.ListVehicles(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"vehicles": vehicles})
}

type createTripRequest struct {
	VehicleID         int64  `json:"vehicle_id" validate:"required,gt=0"`
	OriginWarehouseID int64  `json:"origin_warehouse_id" validate:"required,gt=0"`
	DriverID          int64  `json:"driver_id"`
	Note              string `json:"note"`
}

func (h *Handler) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req createTripRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	trip, err := h.service.CreateTrip(r.Context(), CreateTripInput{
		VehicleID:         req.VehicleID,
		OriginWarehouseID: req.OriginWarehouseID,
		DriverID:          req.DriverID,
		Note:              req.Note,
		ActorID:           shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("create trip failed", slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, trip)
}

func (h *Handler) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	trip, err := h.service.GetTrip(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trip)
}

func (h *Handler) handleListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := TripFilter{Status: TripStatus(q.Get("status"))}
	if v := q.Get("vehicle_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.VehicleID = id
		}
	}
	if v := q.Get("stuck_hours"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			filter.StuckSince = time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			filter.Limit = limit
		}
	}
	trips, err := h.service.ListTrips(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trips": trips})
}

type planRequest struct {
	OrderIDs []int64 `json:"order_ids" validate:"required,min=1"`
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req planRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	trip, err := h.service.Plan(r.Context(), id, req.OrderIDs, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("plan trip failed", slog.Int64("trip_id", id), slog.Any("error", err))
		h.respondTripError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trip)
}

type loadRequest struct {
	AllowPartial bool `json:"allow_partial"`
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req loadRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			respondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
			return
		}
	}
	trip, result, err := h.service.Load(r.Context(), id, req.AllowPartial, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("load trip failed", slog.Int64("trip_id", id), slog.Any("error", err))
		h.respondTripError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trip": trip, "load": result})
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	trip, err := h.service.Start(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trip)
}

type deliveryItemPayload struct {
	ItemID           int64           `json:"item_id" validate:"required,gt=0"`
	Qty              decimal.Decimal `json:"qty"`
	EmptyItemID      int64           `json:"empty_item_id"`
	EmptiesCollected decimal.Decimal `json:"empties_collected"`
}

type deliveryRequest struct {
	OrderID int64                 `json:"order_id"`
	Items   []deliveryItemPayload `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req deliveryRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	items := make([]DeliveredItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, DeliveredItem{
			ItemID:           item.ItemID,
			Qty:              item.Qty,
			EmptyItemID:      item.EmptyItemID,
			EmptiesCollected: item.EmptiesCollected,
		})
	}
	trip, err := h.service.RecordDelivery(r.Context(), id, DeliveryInput{
		OrderID: req.OrderID,
		Items:   items,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("record delivery failed", slog.Int64("trip_id", id), slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trip)
}

type unloadRequest struct {
	DestWarehouseID int64       `json:"dest_warehouse_id"`
	Actual          []CountItem `json:"actual"`
}

func (h *Handler) handleUnload(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req unloadRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
		return
	}
	trip, result, err := h.service.Unload(r.Context(), id, UnloadTripInput{
		DestWarehouseID: req.DestWarehouseID,
		Actual:          req.Actual,
		ActorID:         shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("unload trip failed", slog.Int64("trip_id", id), slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"trip": trip, "unload": result})
}

type cancelTripRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req cancelTripRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			respondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
			return
		}
	}
	trip, err := h.service.Cancel(r.Context(), id, req.Reason, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("cancel trip failed", slog.Int64("trip_id", id), slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, trip)
}

// respondTripError attaches the capacity report to over-capacity failures so
// the dispatcher can see utilization without a second call.
func (h *Handler) respondTripError(w http.ResponseWriter, err error) {
	var capErr *CapacityError
	if errors.As(err, &capErr) {
		httpx.JSON(w, http.StatusConflict, map[string]any{
			"title":  "Stock Conflict",
			"status": http.StatusConflict,
			"detail": capErr.Error(),
			"report": capErr.Report,
		})
		return
	}
	respondError(w, err)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: malformed body", httpx.ErrValidation)
	}
	if err := h.validator.Struct(target); err != nil {
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error())
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id", httpx.ErrValidation)
	}
	return id, nil
}

// respondError maps fleet errors, and the document and ledger errors that
// surface through loading and unloading, onto problem responses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrVehicleNotFound),
		errors.Is(err, ErrTripNotFound),
		errors.Is(err, stockdoc.ErrDocumentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrOrderNotEligible),
		errors.Is(err, ErrNothingToLoad),
		errors.Is(err, stockdoc.ErrInvalidDocument),
		errors.Is(err, stockdoc.ErrEmptyDocument),
		errors.Is(err, ledger.ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Stock Conflict", err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, stockdoc.ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
