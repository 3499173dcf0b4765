package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/platform/httpx"
	"github.com/elpiji-erp/elpiji/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjustments", h.handleAdjust)
	r.Post("/reservations", h.handleReserve)
	r.Delete("/reservations/{id}", h.handleRelease)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/status-transfers", h.handleStatusTransfer)
	r.Post("/reconciliations", h.handleReconcile)
	r.Get("/balances", h.handleBalances)
	r.Get("/card", h.handleStockCard)
}

type locationPayload struct {
	Kind string `json:"kind" validate:"required,oneof=WAREHOUSE VEHICLE"`
	ID   int64  `json:"id" validate:"required,gt=0"`
}

func (p locationPayload) ref() LocationRef {
	return LocationRef{Kind: LocationKind(p.Kind), ID: p.ID}
}

type adjustRequest struct {
	Location      locationPayload `json:"location" validate:"required"`
	ItemID        int64           `json:"item_id" validate:"required,gt=0"`
	Status        string          `json:"status"`
	Delta         decimal.Decimal `json:"delta"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	AllowNegative bool            `json:"allow_negative"`
	RefType       string          `json:"ref_type"`
	RefID         string          `json:"ref_id"`
	Note          string          `json:"note"`
}

type balanceResponse struct {
	Location  LocationRef     `json:"location"`
	ItemID    int64           `json:"item_id"`
	Status    Status          `json:"status"`
	Total     decimal.Decimal `json:"total"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toBalanceResponse(b Balance) balanceResponse {
	return balanceResponse{
		Location:  b.Location,
		ItemID:    b.ItemID,
		Status:    b.Status,
		Total:     b.Total,
		Reserved:  b.Reserved,
		Available: b.Available(),
		UnitCost:  b.UnitCost,
		UpdatedAt: b.UpdatedAt,
	}
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	balance, err := h.service.Adjust(r.Context(), AdjustInput{
		Location:      req.Location.ref(),
		ItemID:        req.ItemID,
		Status:        statusOrDefault(req.Status),
		Delta:         req.Delta,
		UnitCost:      req.UnitCost,
		AllowNegative: req.AllowNegative,
		RefType:       req.RefType,
		RefID:         req.RefID,
		Note:          req.Note,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("stock adjustment failed", slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toBalanceResponse(balance))
}

type reserveRequest struct {
	Location locationPayload `json:"location" validate:"required"`
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	Status   string          `json:"status"`
	Qty      decimal.Decimal `json:"qty"`
	RefType  string          `json:"ref_type"`
	RefID    string          `json:"ref_id"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	reservation, err := h.service.Reserve(r.Context(), ReserveInput{
		Location: req.Location.ref(),
		ItemID:   req.ItemID,
		Status:   statusOrDefault(req.Status),
		Qty:      req.Qty,
		RefType:  req.RefType,
		RefID:    req.RefID,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"reservation_id": reservation.ID,
		"location":       reservation.Location,
		"item_id":        reservation.ItemID,
		"status":         reservation.Status,
		"qty":            reservation.Qty,
		"created_at":     reservation.CreatedAt,
	})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, fmt.Errorf("%w: reservation id", httpx.ErrValidation))
		return
	}
	if err := h.service.Release(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"released": true})
}

type transferRequest struct {
	From    locationPayload `json:"from" validate:"required"`
	To      locationPayload `json:"to" validate:"required"`
	ItemID  int64           `json:"item_id" validate:"required,gt=0"`
	Status  string          `json:"status"`
	Qty     decimal.Decimal `json:"qty"`
	RefType string          `json:"ref_type"`
	RefID   string          `json:"ref_id"`
	Note    string          `json:"note"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	err := h.service.TransferLocation(r.Context(), TransferInput{
		From:    req.From.ref(),
		To:      req.To.ref(),
		ItemID:  req.ItemID,
		Status:  statusOrDefault(req.Status),
		Qty:     req.Qty,
		RefType: req.RefType,
		RefID:   req.RefID,
		Note:    req.Note,
		ActorID: shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.logger.Error("stock transfer failed", slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transferred": true})
}

type statusTransferRequest struct {
	Location locationPayload `json:"location" validate:"required"`
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	From     string          `json:"from" validate:"required"`
	To       string          `json:"to" validate:"required"`
	Qty      decimal.Decimal `json:"qty"`
	RefType  string          `json:"ref_type"`
	RefID    string          `json:"ref_id"`
	Note     string          `json:"note"`
}

func (h *Handler) handleStatusTransfer(w http.ResponseWriter, r *http.Request) {
	var req statusTransferRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	err := h.service.TransferStatus(r.Context(), StatusTransferInput{
		Location: req.Location.ref(),
		ItemID:   req.ItemID,
		From:     Status(req.From),
		To:       Status(req.To),
		Qty:      req.Qty,
		RefType:  req.RefType,
		RefID:    req.RefID,
		Note:     req.Note,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transferred": true})
}

type reconcileRequest struct {
	Location locationPayload `json:"location" validate:"required"`
	ItemID   int64           `json:"item_id" validate:"required,gt=0"`
	Status   string          `json:"status"`
	Counted  decimal.Decimal `json:"counted"`
	RefType  string          `json:"ref_type"`
	RefID    string          `json:"ref_id"`
	Note     string          `json:"note"`
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := h.decode(r, &req); err != nil {
		respondError(w, err)
		return
	}
	variance, err := h.service.ReconcileCount(r.Context(), ReconcileInput{
		Location: req.Location.ref(),
		ItemID:   req.ItemID,
		Status:   statusOrDefault(req.Status),
		Counted:  req.Counted,
		RefType:  req.RefType,
		RefID:    req.RefID,
		Note:     req.Note,
		ActorID:  shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"variance": variance})
}

func (h *Handler) handleBalances(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	balances, err := h.service.Balances(r.Context(), loc)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, toBalanceResponse(b))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": out})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	loc, err := locationFromQuery(r)
	if err != nil {
		respondError(w, err)
		return
	}
	q := r.URL.Query()
	filter := MovementFilter{Location: loc}
	if v := q.Get("item_id"); v != "" {
		filter.ItemID, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, fmt.Errorf("%w: item_id", httpx.ErrValidation))
			return
		}
	}
	if v := q.Get("from"); v != "" {
		filter.From, err = time.Parse("2006-01-02", v)
		if err != nil {
			respondError(w, fmt.Errorf("%w: from date", httpx.ErrValidation))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse("2006-01-02", v)
		if err != nil {
			respondError(w, fmt.Errorf("%w: to date", httpx.ErrValidation))
			return
		}
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			filter.Limit = limit
		}
	}
	movements, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	running := decimal.Zero
	for _, m := range movements {
		running = running.Add(m.Qty)
		out = append(out, movementResponse{
			ID:       m.ID,
			Location: m.Location,
			ItemID:   m.ItemID,
			Status:   m.Status,
			Qty:      m.Qty,
			Running:  running,
			UnitCost: m.UnitCost,
			RefType:  m.RefType,
			RefID:    m.RefID,
			Note:     m.Note,
			PostedAt: m.PostedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

type movementResponse struct {
	ID       int64           `json:"id"`
	Location LocationRef     `json:"location"`
	ItemID   int64           `json:"item_id"`
	Status   Status          `json:"status"`
	Qty      decimal.Decimal `json:"qty"`
	Running  decimal.Decimal `json:"running_total"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	RefType  string          `json:"ref_type"`
	RefID    string          `json:"ref_id"`
	Note     string          `json:"note"`
	PostedAt time.Time       `json:"posted_at"`
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

func statusOrDefault(raw string) Status {
	if raw == "" {
		return StatusOnHand
	}
	return Status(raw)
}

func locationFromQuery(r *http.Request) (LocationRef, error) {
	q := r.URL.Query()
	kind := q.Get("location_kind")
	if kind == "" {
		kind = string(LocationWarehouse)
	}
	id, err := strconv.ParseInt(q.Get("location_id"), 10, 64)
	if err != nil || id <= 0 {
		return LocationRef{}, fmt.Errorf("%w: location_id required", httpx.ErrValidation)
	}
	return LocationRef{Kind: LocationKind(kind), ID: id}, nil
}

// respondError maps ledger errors onto problem responses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrReservationNotFound), errors.Is(err, ErrBalanceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidStatus):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Stock Conflict", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
