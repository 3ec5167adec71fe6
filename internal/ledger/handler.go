package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomworks/millstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{itemType}/{itemID}/balance", h.handleBalance)
	r.Get("/{itemType}/{itemID}/movements", h.handleMovements)
	r.Get("/{itemType}/{itemID}/sufficiency", h.handleSufficiency)
	r.Post("/adjustments", h.handleAdjustment)
}

type adjustmentRequest struct {
	ItemType string  `json:"item_type" validate:"required,oneof=raw_material finished_good"`
	ItemID   int64   `json:"item_id" validate:"required,gt=0"`
	Qty      float64 `json:"qty" validate:"required"`
	Reason   string  `json:"reason" validate:"required"`
	RefCode  string  `json:"ref_code"`
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	key, ok := h.itemKey(w, r)
	if !ok {
		return
	}
	balance, err := h.service.CurrentBalance(r.Context(), key)
	if err != nil {
		h.respondError(w, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_type": key.ItemType,
		"item_id":   key.ItemID,
		"balance":   balance,
	})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	key, ok := h.itemKey(w, r)
	if !ok {
		return
	}
	filter, err := parseMovementFilter(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movements, err := h.service.Movements(r.Context(), key, filter)
	if err != nil {
		h.respondError(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) handleSufficiency(w http.ResponseWriter, r *http.Request) {
	key, ok := h.itemKey(w, r)
	if !ok {
		return
	}
	qty, err := strconv.ParseFloat(r.URL.Query().Get("qty"), 64)
	if err != nil || qty <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty must be a positive number")
		return
	}
	result, err := h.service.CheckSufficiency(r.Context(), key, qty)
	if err != nil {
		h.respondError(w, "check sufficiency", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	movement, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		ItemType: ItemType(req.ItemType),
		ItemID:   req.ItemID,
		Qty:      req.Qty,
		Reason:   req.Reason,
		RefCode:  req.RefCode,
	})
	if err != nil {
		h.respondError(w, "post adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) itemKey(w http.ResponseWriter, r *http.Request) (ItemKey, bool) {
	itemType := ItemType(chi.URLParam(r, "itemType"))
	if itemType != ItemRawMaterial && itemType != ItemFinishedGood {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item type must be raw_material or finished_good")
		return ItemKey{}, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "item id must be a positive integer")
		return ItemKey{}, false
	}
	return ItemKey{ItemType: itemType, ItemID: id}, true
}

func parseMovementFilter(r *http.Request) (MovementFilter, error) {
	var filter MovementFilter
	q := r.URL.Query()
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return MovementFilter{}, errors.New("from must be YYYY-MM-DD")
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return MovementFilter{}, errors.New("to must be YYYY-MM-DD")
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return MovementFilter{}, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.Is(err, ErrInvalidItem), errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrBalanceNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("ledger "+op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
