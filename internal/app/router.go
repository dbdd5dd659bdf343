package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/vendaflow/vendaflow/internal/finance"
	"github.com/vendaflow/vendaflow/internal/ledger"
	"github.com/vendaflow/vendaflow/internal/observability"
	"github.com/vendaflow/vendaflow/internal/receipts"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	FinanceHandler  *finance.Handler
	LedgerHandler   *ledger.Handler
	ReceiptsHandler *receipts.Handler
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router with vendaflow defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.FinanceHandler != nil {
		r.Route("/finance", params.FinanceHandler.MountRoutes)
	}
	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.ReceiptsHandler != nil {
		r.Route("/receipts", params.ReceiptsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
