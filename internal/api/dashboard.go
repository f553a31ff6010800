// internal/api/dashboard.go
package api

import (
	"context"
	"net/http"

	"github-activity-sync/internal/aggregate"
)

// serveRanged handles the dashboard reads that take an account and an optional from/to range.
func serveRanged[T any](h *Handler, w http.ResponseWriter, r *http.Request, read func(context.Context, int64, aggregate.Range) (T, error)) {
	id, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	rng, err := rangeParams(r)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if _, err := h.accounts.Get(r.Context(), id); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	out, err := read(r.Context(), id, rng)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, out)
}

// GET /v1/accounts/{accountID}/dashboard/activity?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	serveRanged(h, w, r, h.dashboard.CommitActivity)
}

func (h *Handler) getLanguages(w http.ResponseWriter, r *http.Request) {
	serveRanged(h, w, r, h.dashboard.LanguageBreakdown)
}

func (h *Handler) getRepositoryBreakdown(w http.ResponseWriter, r *http.Request) {
	serveRanged(h, w, r, h.dashboard.RepositoryBreakdown)
}

func (h *Handler) getCategories(w http.ResponseWriter, r *http.Request) {
	serveRanged(h, w, r, h.dashboard.CategoryBreakdown)
}

func (h *Handler) getHeatmap(w http.ResponseWriter, r *http.Request) {
	serveRanged(h, w, r, h.dashboard.Heatmap)
}

// getTechTrends buckets technology tags per week or month.
// GET /v1/accounts/{accountID}/dashboard/tech-trends?period=week|month&top=N
func (h *Handler) getTechTrends(w http.ResponseWriter, r *http.Request) {
	period, err := aggregate.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	top, err := intParam(r, "top", 10, 0, 50)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	serveRanged(h, w, r, func(ctx context.Context, id int64, rng aggregate.Range) ([]aggregate.TrendPoint, error) {
		return h.dashboard.TechTrends(ctx, id, period, rng, top)
	})
}

// GET /v1/accounts/{accountID}/dashboard/tech-stacks
func (h *Handler) getTechStacks(w http.ResponseWriter, r *http.Request) {
	serveRanged(h, w, r, func(ctx context.Context, id int64, _ aggregate.Range) ([]aggregate.RepositoryStack, error) {
		return h.dashboard.TechStacks(ctx, id)
	})
}

// GET /v1/accounts/{accountID}/dashboard/stats
func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	serveRanged(h, w, r, func(ctx context.Context, id int64, _ aggregate.Range) (aggregate.Stats, error) {
		return h.dashboard.Stats(ctx, id)
	})
}
