// internal/api/sync.go
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apperrors "github-activity-sync/internal/errors"
	"github-activity-sync/internal/jobs"
)

// triggerSync starts a background sync and returns immediately.
// POST /v1/accounts/{accountID}/sync
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var req jobs.TriggerRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	job, err := h.jobs.Trigger(r.Context(), id, req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "status": job.Status})
}

// getSyncJob is the polling endpoint for one job.
// GET /v1/sync/jobs/{jobID}
func (h *Handler) getSyncJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondWithAppError(w, r, &apperrors.InvalidArgumentError{Field: "jobID", Reason: "must be a UUID"})
		return
	}
	job, err := h.jobs.Status(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

// GET /v1/accounts/{accountID}/sync/state
func (h *Handler) getSyncState(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	state, err := h.jobs.AccountState(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, state)
}

// GET /v1/accounts/{accountID}/sync/history?limit=N
func (h *Handler) getSyncHistory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	limit, err := intParam(r, "limit", 20, 1, 100)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	history, err := h.jobs.History(r.Context(), id, limit)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, history)
}
