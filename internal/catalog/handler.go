package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/platform/httpx"
)

// Handler wires the read-only catalog HTTP surface.
type Handler struct {
	logger *slog.Logger
	lookup Lookup
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, lookup Lookup) *Handler {
	return &Handler{logger: logger, lookup: lookup}
}

// MountRoutes registers catalog routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items", h.handleItemByCode)
	r.Get("/items/{id}", h.handleItemByID)
	r.Get("/items/{id}/classification", h.handleClassification)
}

type itemResponse struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"product_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Kind         ItemKind        `json:"kind"`
	Condition    Condition       `json:"condition,omitempty"`
	UnitWeight   decimal.Decimal `json:"unit_weight"`
	UnitVolume   decimal.Decimal `json:"unit_volume"`
	DefaultPrice decimal.Decimal `json:"default_price"`
	IsActive     bool            `json:"is_active"`
	Components   []Component     `json:"components,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toItemResponse(item Item) itemResponse {
	out := itemResponse{
		ID:           item.ID,
		ProductID:    item.ProductID,
		Code:         item.Code,
		Name:         item.Name,
		Kind:         item.Kind(),
		UnitWeight:   item.UnitWeight,
		UnitVolume:   item.UnitVolume,
		DefaultPrice: item.DefaultPrice,
		IsActive:     item.IsActive,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
	switch spec := item.Spec.(type) {
	case PhysicalAsset:
		out.Condition = spec.Condition
	case Bundle:
		out.Components = spec.Components
	}
	return out
}

func (h *Handler) handleItemByID(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	item, err := h.lookup.ItemByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleItemByCode(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, fmt.Errorf("%w: code query parameter required", httpx.ErrValidation))
		return
	}
	item, err := h.lookup.ItemByCode(r.Context(), code)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleClassification(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	item, err := h.lookup.ItemByID(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	cls, err := Classify(item)
	if err != nil {
		h.logger.Error("classify item failed",
			slog.Int64("item_id", id),
			slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":           item.ID,
		"kind":              item.Kind(),
		"affects_inventory": cls.AffectsInventory,
		"requires_exchange": cls.RequiresExchange,
		"bucket":            cls.Bucket,
	})
}

func itemID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: item id", httpx.ErrValidation)
	}
	return id, nil
}

// respondError maps catalog errors onto problem responses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidCatalogState), errors.Is(err, ErrInvalidBundleDefinition):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
