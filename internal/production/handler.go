package production

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/masterdata/machines"
	"github.com/loomworks/millstock/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the production allocator.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.handleList)
	r.Post("/batches", h.handleAllocate)
	r.Get("/batches/{id}", h.handleGet)
	r.Put("/batches/{id}", h.handleEdit)
	r.Delete("/batches/{id}", h.handleDelete)
	r.Post("/batches/{id}/complete", h.handleComplete)
	r.Post("/batches/{id}/reverse", h.handleReverse)
	r.Post("/quick-complete", h.handleQuickComplete)
}

type inputLineRequest struct {
	MaterialID int64   `json:"material_id" validate:"required,gt=0"`
	Qty        float64 `json:"qty" validate:"required,gt=0"`
	RollID     int64   `json:"roll_id"`
}

type outputLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
}

type allocateRequest struct {
	MachineID int64               `json:"machine_id" validate:"required,gt=0"`
	Inputs    []inputLineRequest  `json:"inputs" validate:"required,min=1,max=6,dive"`
	Outputs   []outputLineRequest `json:"outputs" validate:"max=4,dive"`
}

type completeLineRequest struct {
	ProductID int64   `json:"product_id" validate:"required,gt=0"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
}

type completeRequest struct {
	Outputs []completeLineRequest `json:"outputs" validate:"required,min=1,max=4,dive"`
}

type quickCompleteRequest struct {
	MachineID    int64   `json:"machine_id" validate:"required,gt=0"`
	ProductID    int64   `json:"product_id" validate:"required,gt=0"`
	OutputWeight float64 `json:"output_weight" validate:"required,gt=0"`
	LossPct      float64 `json:"loss_pct" validate:"gte=0,lt=100"`
}

type editRequest struct {
	Inputs  []inputLineRequest  `json:"inputs" validate:"required,min=1,max=6,dive"`
	Outputs []outputLineRequest `json:"outputs" validate:"max=4,dive"`
}

type reverseRequest struct {
	RestoreToInProgress bool `json:"restore_to_in_progress"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	q := r.URL.Query()
	if s := q.Get("machine_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "machine_id must be an integer")
			return
		}
		filter.MachineID = id
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
	batches, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, "list batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := AllocateInput{MachineID: req.MachineID}
	for _, line := range req.Inputs {
		input.Inputs = append(input.Inputs, InputLine{MaterialID: line.MaterialID, Qty: line.Qty, RollID: line.RollID})
	}
	for _, line := range req.Outputs {
		input.Outputs = append(input.Outputs, OutputLine{ProductID: line.ProductID})
	}
	detail, err := h.service.Allocate(r.Context(), input)
	if err != nil {
		h.respondError(w, "allocate batch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, "get batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req editRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var inputs []InputLine
	for _, line := range req.Inputs {
		inputs = append(inputs, InputLine{MaterialID: line.MaterialID, Qty: line.Qty, RollID: line.RollID})
	}
	var outputs []OutputLine
	for _, line := range req.Outputs {
		outputs = append(outputs, OutputLine{ProductID: line.ProductID})
	}
	detail, err := h.service.Edit(r.Context(), id, inputs, outputs)
	if err != nil {
		h.respondError(w, "edit batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, "delete batch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var lines []CompleteLine
	for _, line := range req.Outputs {
		lines = append(lines, CompleteLine{ProductID: line.ProductID, Qty: line.Qty})
	}
	batch, err := h.service.Complete(r.Context(), id, lines)
	if err != nil {
		h.respondError(w, "complete batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleReverse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.batchID(w, r)
	if !ok {
		return
	}
	var req reverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	batch, err := h.service.Reverse(r.Context(), id, req.RestoreToInProgress)
	if err != nil {
		h.respondError(w, "reverse batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleQuickComplete(w http.ResponseWriter, r *http.Request) {
	var req quickCompleteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	affected, err := h.service.QuickComplete(r.Context(), QuickCompleteInput{
		MachineID:    req.MachineID,
		ProductID:    req.ProductID,
		OutputWeight: req.OutputWeight,
		LossPct:      req.LossPct,
	})
	if err != nil {
		h.respondError(w, "quick complete", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"affected_batches": affected})
}

func (h *Handler) batchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "batch id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var insufficient *ledger.InsufficientStockError
	var invalidState *InvalidStateError
	var consumed *ConsumedStockError
	switch {
	case errors.Is(err, ErrBatchNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrTooManyLines), errors.Is(err, ErrNoInputLines),
		errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidLossPct):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, machines.ErrUnavailable), errors.Is(err, machines.ErrNotFound):
		httpx.Problem(w, http.StatusConflict, "Machine Unavailable", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.As(err, &invalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.As(err, &consumed):
		httpx.Problem(w, http.StatusConflict, "Consumed Stock", err.Error())
	default:
		h.logger.Error("production "+op+" failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
