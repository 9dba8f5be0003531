package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gescom-erp/gescom/internal/documents"
	"github.com/gescom-erp/gescom/internal/observability"
	"github.com/gescom-erp/gescom/internal/sequence"
	"github.com/gescom-erp/gescom/internal/stock"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	DocumentsHandler *documents.Handler
	StockHandler     *stock.Handler
	SequenceHandler  *sequence.Handler
	Pool             *pgxpool.Pool
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
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

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(TenantMiddleware(params.Logger))
		if params.DocumentsHandler != nil {
			params.DocumentsHandler.MountRoutes(api)
		}
		if params.StockHandler != nil {
			params.StockHandler.MountRoutes(api)
		}
		if params.SequenceHandler != nil {
			params.SequenceHandler.MountRoutes(api)
		}
	})

	return r
}
