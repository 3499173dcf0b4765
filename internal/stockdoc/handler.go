package stockdoc

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/elpiji-erp/elpiji/internal/ledger"
	"github.com/elpiji-erp/elpiji/internal/platform/httpx"
	"github.com/elpiji-erp/elpiji/internal/shared"
)

// Handler wires HTTP endpoints for stock documents.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance. The idempotency store may be nil;
// the Idempotency-Key header is then ignored.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency, validator: validator.New()}
}

// MountRoutes registers stock document routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/ship", h.handleShip)
	r.Post("/{id}/post", h.handlePost)
	r.Post("/{id}/cancel", h.handleCancel)
}

type createLinePayload struct {
	ItemID          int64           `json:"item_id" validate:"required,gt=0"`
	Qty             decimal.Decimal `json:"qty"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	Bucket          string          `json:"bucket"`
	ConvertToItemID int64           `json:"convert_to_item_id"`
	Ratio           decimal.Decimal `json:"ratio"`
	Note            string          `json:"note"`
}

type createRequest struct {
	Type        string              `json:"type" validate:"required"`
	Source      *locationPayload    `json:"source"`
	Destination *locationPayload    `json:"destination"`
	Lines       []createLinePayload `json:"lines" validate:"required,min=1,dive"`
	RefType     string              `json:"ref_type"`
	RefID       string              `json:"ref_id"`
	Reason      string              `json:"reason"`
	Note        string              `json:"note"`
	// Post immediately posts the document after creation in one transaction.
	Post bool `json:"post"`
}

type locationPayload struct {
	Kind string `json:"kind" validate:"required,oneof=WAREHOUSE VEHICLE"`
	ID   int64  `json:"id" validate:"required,gt=0"`
}

func (p *locationPayload) ref() ledger.LocationRef {
	if p == nil {
		return ledger.LocationRef{}
	}
	return ledger.LocationRef{Kind: ledger.LocationKind(p.Kind), ID: p.ID}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respondError(w, fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error()))
		return
	}

	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, "stockdoc"); err != nil {
			respondError(w, err)
			return
		}
	}

	lines := make([]Line, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, Line{
			ItemID:          line.ItemID,
			Qty:             line.Qty,
			UnitCost:        line.UnitCost,
			Bucket:          ledger.Status(line.Bucket),
			ConvertToItemID: line.ConvertToItemID,
			Ratio:           line.Ratio,
			Note:            line.Note,
		})
	}
	input := CreateInput{
		Type:        Type(req.Type),
		Source:      req.Source.ref(),
		Destination: req.Destination.ref(),
		Lines:       lines,
		RefType:     req.RefType,
		RefID:       req.RefID,
		Reason:      req.Reason,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
	}

	var (
		doc Document
		err error
	)
	if req.Post {
		doc, err = h.service.CreatePosted(r.Context(), input)
	} else {
		doc, err = h.service.Create(r.Context(), input)
	}
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("idempotency rollback failed", slog.Any("error", delErr))
			}
		}
		h.logger.Error("create stock document failed",
			slog.String("type", req.Type),
			slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	doc, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Type:    Type(q.Get("type")),
		Status:  Status(q.Get("status")),
		RefType: q.Get("ref_type"),
		RefID:   q.Get("ref_id"),
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			filter.Limit = limit
		}
	}
	docs, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) handleShip(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64) (Document, error) {
		return h.service.Ship(r.Context(), id, actorID)
	})
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id, actorID int64) (Document, error) {
		return h.service.Post(r.Context(), id, actorID)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := docID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			respondError(w, fmt.Errorf("%w: malformed body", httpx.ErrValidation))
			return
		}
	}
	doc, err := h.service.Cancel(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.logger.Error("cancel stock document failed",
			slog.Int64("document_id", id),
			slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(id, actorID int64) (Document, error)) {
	id, err := docID(r)
	if err != nil {
		respondError(w, err)
		return
	}
	doc, err := fn(id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("stock document transition failed",
			slog.Int64("document_id", id),
			slog.Any("error", err))
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func docID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: document id", httpx.ErrValidation)
	}
	return id, nil
}

// respondError maps document and underlying ledger errors onto problem
// responses.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidDocument),
		errors.Is(err, ErrEmptyDocument),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidStatus):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock), errors.Is(err, ledger.ErrNegativeStock):
		httpx.Problem(w, http.StatusConflict, "Stock Conflict", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		httpx.RespondError(w, err)
	}
}
