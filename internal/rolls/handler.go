package rolls

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomworks/millstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the roll registry.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs rolls handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers roll registry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Put("/{id}", h.handleUpdate)
}

type createRequest struct {
	PurchaseBillID int64   `json:"purchase_bill_id"`
	MaterialID     int64   `json:"material_id" validate:"required,gt=0"`
	Code           string  `json:"code" validate:"required"`
	NetWeight      float64 `json:"net_weight" validate:"required,gt=0"`
	GSM            float64 `json:"gsm" validate:"gte=0"`
	Width          float64 `json:"width" validate:"gte=0"`
}

type updateRequest struct {
	NetWeight float64 `json:"net_weight" validate:"required,gt=0"`
	GSM       float64 `json:"gsm" validate:"gte=0"`
	Width     float64 `json:"width" validate:"gte=0"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	q := r.URL.Query()
	if s := q.Get("material_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "material_id must be an integer")
			return
		}
		filter.MaterialID = id
	}
	if s := q.Get("status"); s != "" {
		filter.Status = Status(s)
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list rolls", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rolls": items})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	roll, err := h.service.Create(r.Context(), CreateInput{
		PurchaseBillID: req.PurchaseBillID,
		MaterialID:     req.MaterialID,
		Code:           req.Code,
		NetWeight:      req.NetWeight,
		GSM:            req.GSM,
		Width:          req.Width,
	})
	if err != nil {
		h.respondError(w, "create roll", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, roll)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rollID(w, r)
	if !ok {
		return
	}
	roll, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get roll", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roll)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.rollID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	roll, err := h.service.Update(r.Context(), id, UpdateInput{
		NetWeight: req.NetWeight,
		GSM:       req.GSM,
		Width:     req.Width,
	})
	if err != nil {
		h.respondError(w, "update roll", err)
		return
	}
	httpx.JSON(w, http.StatusOK, roll)
}

func (h *Handler) rollID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "roll id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var notAvailable *NotAvailableError
	var exceeded *QuantityExceededError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateCode):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrWeightLocked):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidWeight), errors.Is(err, ErrMaterialRequired), errors.Is(err, ErrCodeRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &notAvailable), errors.As(err, &exceeded):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("rolls "+op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
