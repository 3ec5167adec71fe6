package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loomworks/millstock/internal/platform/httpx"
)

// EnqueuerPort hands the rebuild off to the background worker.
type EnqueuerPort interface {
	EnqueueLedgerRebuild(ctx context.Context) (string, error)
}

// Handler wires HTTP endpoints for ledger reconciliation.
type Handler struct {
	logger   *slog.Logger
	enqueuer EnqueuerPort
}

// NewHandler constructs reconcile handler.
func NewHandler(logger *slog.Logger, enqueuer EnqueuerPort) *Handler {
	return &Handler{logger: logger, enqueuer: enqueuer}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/rebuild", h.handleRebuild)
}

// handleRebuild enqueues a full ledger rebuild. The rebuild itself runs on the
// worker so the HTTP request returns immediately.
func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	taskID, err := h.enqueuer.EnqueueLedgerRebuild(r.Context())
	if err != nil {
		if errors.Is(err, ErrRebuildInProgress) {
			httpx.Problem(w, http.StatusConflict, "Rebuild In Progress", err.Error())
			return
		}
		h.logger.Error("enqueue ledger rebuild failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
}
