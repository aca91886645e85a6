package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/rfq-portal/internal/auth"
	"github.com/odyssey-erp/rfq-portal/internal/live"
	"github.com/odyssey-erp/rfq-portal/internal/observability"
	"github.com/odyssey-erp/rfq-portal/internal/orders"
	"github.com/odyssey-erp/rfq-portal/internal/quotations"
	"github.com/odyssey-erp/rfq-portal/internal/rfq"
	"github.com/odyssey-erp/rfq-portal/internal/shared"
	"github.com/odyssey-erp/rfq-portal/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Auth              auth.Middleware
	RFQHandler        *rfq.Handler
	QuotationHandler  *quotations.Handler
	OrderHandler      *orders.Handler
	JobHandler        *jobs.Handler
	Hub               *live.Hub
	Metrics           *observability.Metrics
	DisableAccessLogs bool
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if !params.DisableAccessLogs {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(params.Auth.Authenticate)

		if params.Hub != nil {
			r.Handle("/v1/live", params.Hub)
		}

		r.Group(func(r chi.Router) {
			for _, mw := range APIStack(MiddlewareConfig{Config: params.Config}) {
				r.Use(mw)
			}
			if params.RFQHandler != nil {
				r.Route("/v1/rfqs", params.RFQHandler.MountRoutes)
			}
			// Order creation lives under the quotation path; both handlers share one subrouter.
			r.Route("/v1/quotations", func(r chi.Router) {
				if params.QuotationHandler != nil {
					params.QuotationHandler.MountRoutes(r)
				}
				if params.OrderHandler != nil {
					params.OrderHandler.MountQuotationRoutes(r)
				}
			})
			if params.OrderHandler != nil {
				r.Route("/v1/orders", params.OrderHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				r.With(params.Auth.RequireRole(shared.RoleDirector)).Route("/v1/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
