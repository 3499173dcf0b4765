package order

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/catalog"
	"github.com/elpiji-erp/elpiji/internal/platform/httpx"
)

// Handler wires HTTP endpoints for order-line decomposition.
type Handler struct {
	logger    *slog.Logger
	decompose *Decomposer
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, decomposer *Decomposer) *Handler {
	return &Handler{logger: logger, decompose: decomposer, validator: validator.New()}
}

// MountRoutes registers order routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/decompose", h.handleDecompose)
	r.Post("/requirements", h.handleRequirements)
	r.Post("/validate", h.handleValidate)
}

type linePayload struct {
	ItemID          int64           `json:"item_id" validate:"required,gt=0"`
	Quantity        decimal.Decimal `json:"quantity"`
	EmptiesReturned decimal.Decimal `json:"empties_returned"`
	CustomerID      int64           `json:"customer_id"`
}

type linesRequest struct {
	Lines []linePayload `json:"lines" validate:"required,min=1,dive"`
}

func (req linesRequest) toRequests() []LineRequest {
	out := make([]LineRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		out = append(out, LineRequest{
			ItemID:          line.ItemID,
			Quantity:        line.Quantity,
			EmptiesReturned: line.EmptiesReturned,
			CustomerID:      line.CustomerID,
		})
	}
	return out
}

type decomposedLineResponse struct {
	ItemID           int64           `json:"item_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	Component        ComponentType   `json:"component"`
	AffectsInventory bool            `json:"affects_inventory"`
	ParentBundleID   int64           `json:"parent_bundle_id,omitempty"`
	Reason           ReasonCode      `json:"reason,omitempty"`
}

type requirementResponse struct {
	ItemID    int64           `json:"item_id"`
	Direction Direction       `json:"direction"`
	Qty       decimal.Decimal `json:"qty"`
}

func (h *Handler) handleDecompose(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeLines(r)
	if err != nil {
		respondError(w, err)
		return
	}
	results, merged, err := h.decompose.DecomposeAll(r.Context(), req.toRequests())
	if err != nil {
		h.logger.Error("decomposition failed", slog.Any("error", err))
		respondError(w, err)
		return
	}
	out := make([][]decomposedLineResponse, 0, len(results))
	for _, dec := range results {
		lines := make([]decomposedLineResponse, 0, len(dec.Lines))
		for _, line := range dec.Lines {
			lines = append(lines, decomposedLineResponse{
				ItemID:           line.ItemID,
				Quantity:         line.Quantity,
				Component:        line.Component,
				AffectsInventory: line.AffectsInventory,
				ParentBundleID:   line.ParentBundleID,
				Reason:           line.Reason,
			})
		}
		out = append(out, lines)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"lines":        out,
		"requirements": flattenRequirements(merged),
	})
}

func (h *Handler) handleRequirements(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeLines(r)
	if err != nil {
		respondError(w, err)
		return
	}
	_, merged, err := h.decompose.DecomposeAll(r.Context(), req.toRequests())
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requirements": flattenRequirements(merged)})
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeLines(r)
	if err != nil {
		respondError(w, err)
		return
	}
	report := h.decompose.Validate(r.Context(), req.toRequests())
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) decodeLines(r *http.Request) (linesRequest, error) {
	var req linesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return linesRequest{}, fmt.Errorf("%w: malformed body", httpx.ErrValidation)
	}
	if err := h.validator.Struct(req); err != nil {
		return linesRequest{}, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error())
	}
	return req, nil
}

func flattenRequirements(reqs Requirements) []requirementResponse {
	out := make([]requirementResponse, 0, len(reqs))
	for itemID, dirs := range reqs {
		for dir, qty := range dirs {
			out = append(out, requirementResponse{ItemID: itemID, Direction: dir, Qty: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

// respondError maps decomposition errors onto problem responses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, catalog.ErrInvalidCatalogState),
		errors.Is(err, catalog.ErrInvalidBundleDefinition):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
