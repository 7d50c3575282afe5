package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisehq/backoffice/internal/catalog"
	"github.com/franchisehq/backoffice/internal/ledger"
	"github.com/franchisehq/backoffice/internal/observability"
	"github.com/franchisehq/backoffice/internal/profitloss"
	"github.com/franchisehq/backoffice/internal/reconcile"
	"github.com/franchisehq/backoffice/internal/sales"
	"github.com/franchisehq/backoffice/internal/tenant"
	"github.com/franchisehq/backoffice/internal/transfer"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Pool              *pgxpool.Pool
	TenantHandler     *tenant.Handler
	CatalogHandler    *catalog.Handler
	LedgerHandler     *ledger.Handler
	TransferHandler   *transfer.Handler
	SalesHandler      *sales.Handler
	ReconcileHandler  *reconcile.Handler
	ProfitLossHandler *profitloss.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.Metrics.Middleware)

	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		params.TenantHandler.MountRoutes(r)
		params.CatalogHandler.MountRoutes(r)
		params.LedgerHandler.MountRoutes(r)
		params.TransferHandler.MountRoutes(r)
		params.SalesHandler.MountRoutes(r)
		params.ReconcileHandler.MountRoutes(r)
		params.ProfitLossHandler.MountRoutes(r)
	})

	return r
}
