// internal/api/handler.go
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github-activity-sync/internal/accounts"
	"github-activity-sync/internal/aggregate"
	"github-activity-sync/internal/jobs"
)

// Handler is the container for API dependencies.
type Handler struct {
	accounts  *accounts.Service
	jobs      *jobs.Manager
	dashboard *aggregate.Engine
	logger    *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(acc *accounts.Service, jm *jobs.Manager, engine *aggregate.Engine, logger *slog.Logger) http.Handler {
	h := &Handler{
		accounts:  acc,
		jobs:      jm,
		dashboard: engine,
		logger:    logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", h.createAccount)
		r.Get("/sync/jobs/{jobID}", h.getSyncJob)

		r.Route("/accounts/{accountID}", func(r chi.Router) {
			r.Get("/", h.getAccount)
			r.Patch("/settings", h.updateSettings)
			r.Put("/token", h.rotateToken)
			r.Get("/repositories", h.listRepositories)
			r.Patch("/repositories/{repoID}", h.updateRepository)

			r.Post("/sync", h.triggerSync)
			r.Get("/sync/state", h.getSyncState)
			r.Get("/sync/history", h.getSyncHistory)

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/activity", h.getActivity)
				r.Get("/languages", h.getLanguages)
				r.Get("/repositories", h.getRepositoryBreakdown)
				r.Get("/categories", h.getCategories)
				r.Get("/heatmap", h.getHeatmap)
				r.Get("/tech-trends", h.getTechTrends)
				r.Get("/tech-stacks", h.getTechStacks)
				r.Get("/stats", h.getStats)
			})
		})
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
