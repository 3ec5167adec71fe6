package procurement

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomworks/millstock/internal/platform/httpx"
	"github.com/loomworks/millstock/internal/rolls"
)

// Handler wires HTTP endpoints for procurement.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/bills/{id}", h.handleGetBill)
	r.Post("/bills/{id}/confirm", h.handleConfirm)
	r.Post("/bills/{id}/deliveries", h.handleDelivery)
	r.Get("/bills/{id}/pending", h.handlePending)
	r.Get("/bills/{id}/adjustments", h.handleAdjustments)
}

type deliveryLineRequest struct {
	MaterialID int64   `json:"material_id" validate:"required,gt=0"`
	Code       string  `json:"code" validate:"required"`
	NetWeight  float64 `json:"net_weight" validate:"required,gt=0"`
	GSM        float64 `json:"gsm" validate:"gte=0"`
	Width      float64 `json:"width" validate:"gte=0"`
}

type deliveryRequest struct {
	Rolls []deliveryLineRequest `json:"rolls" validate:"required,min=1,dive"`
}

func (h *Handler) handleGetBill(w http.ResponseWriter, r *http.Request) {
	id, ok := h.billID(w, r)
	if !ok {
		return
	}
	bill, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		h.respondError(w, "get bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.billID(w, r)
	if !ok {
		return
	}
	bill, err := h.service.ConfirmBill(r.Context(), id)
	if err != nil {
		h.respondError(w, "confirm bill", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bill)
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	id, ok := h.billID(w, r)
	if !ok {
		return
	}
	var req deliveryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var deliveries []RollDelivery
	for _, line := range req.Rolls {
		deliveries = append(deliveries, RollDelivery{
			MaterialID: line.MaterialID,
			Code:       line.Code,
			NetWeight:  line.NetWeight,
			GSM:        line.GSM,
			Width:      line.Width,
		})
	}
	result, err := h.service.RecordDelivery(r.Context(), id, deliveries)
	if err != nil {
		h.respondError(w, "record delivery", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	id, ok := h.billID(w, r)
	if !ok {
		return
	}
	materialID, err := strconv.ParseInt(r.URL.Query().Get("material_id"), 10, 64)
	if err != nil || materialID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "material_id must be a positive integer")
		return
	}
	pending, err := h.service.PendingQuantity(r.Context(), id, materialID)
	if err != nil {
		h.respondError(w, "pending quantity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"bill_id":     id,
		"material_id": materialID,
		"pending_qty": pending,
	})
}

func (h *Handler) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.billID(w, r)
	if !ok {
		return
	}
	adjustments, err := h.service.Adjustments(r.Context(), id)
	if err != nil {
		h.respondError(w, "list adjustments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments": adjustments})
}

func (h *Handler) billID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "bill id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrBillNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrBillNotConfirmed), errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrEmptyDelivery), errors.Is(err, rolls.ErrCodeRequired), errors.Is(err, rolls.ErrInvalidWeight):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, rolls.ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("procurement "+op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
