package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/masterdata/machines"
	"github.com/loomworks/millstock/internal/procurement"
	"github.com/loomworks/millstock/internal/production"
	"github.com/loomworks/millstock/internal/reconcile"
	"github.com/loomworks/millstock/internal/rolls"
	"github.com/loomworks/millstock/internal/sales"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	LedgerHandler      *ledger.Handler
	RollsHandler       *rolls.Handler
	ProductionHandler  *production.Handler
	ProcurementHandler *procurement.Handler
	SalesHandler       *sales.Handler
	MachinesHandler    *machines.Handler
	ReconcileHandler   *reconcile.Handler
}

// NewRouter constructs the chi.Router with millstock defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/stock", params.LedgerHandler.MountRoutes)
	r.Route("/rolls", params.RollsHandler.MountRoutes)
	r.Route("/production", params.ProductionHandler.MountRoutes)
	r.Route("/procurement", params.ProcurementHandler.MountRoutes)
	r.Route("/sales", params.SalesHandler.MountRoutes)
	r.Route("/machines", params.MachinesHandler.MountRoutes)
	r.Route("/ledger", params.ReconcileHandler.MountRoutes)

	return r
}
