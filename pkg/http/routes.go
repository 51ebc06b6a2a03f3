package http

import (
	"net/http"
	"time"

	"link-tracker/pkg/logging"
	"link-tracker/pkg/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a chi router with the shared middleware stack. timeout
// bounds each request, storage calls included.
func NewRouter(logger *logging.Logger, timeout time.Duration) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Correlation)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	if timeout > 0 {
		r.Use(chimw.Timeout(timeout))
	}
	return r
}

// SetupRoutes mounts the management API, analytics and the redirect route.
func SetupRoutes(r chi.Router, handler *Handler) {
	r.Get("/health", handler.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", handler.Stats)

		r.Get("/campaigns", handler.ListCampaigns)
		r.Post("/campaigns", handler.CreateCampaign)
		r.Get("/campaigns/{id}", handler.GetCampaign)
		r.Post("/campaigns/{id}/toggle", handler.ToggleCampaign)

		r.Get("/links", handler.ListLinks)
		r.Post("/links", handler.CreateLink)
		r.Get("/links/{id}", handler.GetLink)
		r.Post("/links/{id}/toggle", handler.ToggleLink)
		r.Delete("/links/{id}", handler.DeleteLink)

		r.Get("/domains", handler.ListDomains)
		r.Post("/domains", handler.AddDomain)
		r.Post("/domains/{domain}/verify", handler.VerifyDomain)
		r.Delete("/domains/{domain}", handler.DeleteDomain)

		r.Get("/analytics", handler.Analytics)
		r.Get("/analytics/export", handler.ExportAnalytics)
		r.Post("/reconcile", handler.Reconcile)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		})
	})
	r.Get("/{shortCode}", handler.Redirect)
}

// SetupRedirectRoutes mounts only what the public redirect server needs.
func SetupRedirectRoutes(r chi.Router, handler *Handler) {
	r.Get("/health", handler.HealthCheck)
	r.Get("/{shortCode}", handler.Redirect)
}
