// internal/api/accounts.go
package api

import (
	"net/http"

	"github-activity-sync/internal/accounts"
	apperrors "github-activity-sync/internal/errors"
)

// createAccount registers an account and optionally its token.
// POST /v1/accounts
func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req accounts.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	acct, err := h.accounts.Create(r.Context(), req)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, acct)
}

// GET /v1/accounts/{accountID}
func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	acct, err := h.accounts.Get(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acct)
}

// PATCH /v1/accounts/{accountID}/settings
func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var upd accounts.SettingsUpdate
	if err := decodeBody(r, &upd); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	acct, err := h.accounts.UpdateSettings(r.Context(), id, upd)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acct)
}

// rotateToken replaces the account's GitHub token. The token is never echoed back.
// PUT /v1/accounts/{accountID}/token
func (h *Handler) rotateToken(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if err := h.accounts.RotateToken(r.Context(), id, body.Token); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/accounts/{accountID}/repositories
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	repos, err := h.accounts.Repositories(r.Context(), id)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, repos)
}

// updateRepository toggles whether a repository is tracked.
// PATCH /v1/accounts/{accountID}/repositories/{repoID}
func (h *Handler) updateRepository(w http.ResponseWriter, r *http.Request) {
	accountID, err := idParam(r, "accountID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	repoID, err := idParam(r, "repoID")
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	if body.IsActive == nil {
		h.respondWithAppError(w, r, &apperrors.InvalidArgumentError{Field: "is_active", Reason: "required"})
		return
	}
	repo, err := h.accounts.SetRepositoryActive(r.Context(), accountID, repoID, *body.IsActive)
	if err != nil {
		h.respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, repo)
}
