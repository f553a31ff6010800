// internal/api/respond.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github-activity-sync/internal/aggregate"
	apperrors "github-activity-sync/internal/errors"
)

const dateLayout = "2006-01-02"

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithAppError maps the error taxonomy onto HTTP status codes.
func (h *Handler) respondWithAppError(w http.ResponseWriter, r *http.Request, err error) {
	var localAbsent *apperrors.NotFoundError
	switch kind := apperrors.KindOf(err); {
	case errors.As(err, &localAbsent):
		respondWithError(w, http.StatusNotFound, err.Error())
	case kind == apperrors.KindConflict:
		respondWithError(w, http.StatusConflict, "A sync is already in progress for this account")
	case kind == apperrors.KindInvalidArgument:
		respondWithError(w, http.StatusBadRequest, err.Error())
	case kind == apperrors.KindAuthentication, kind == apperrors.KindRateLimit,
		kind == apperrors.KindTransient, kind == apperrors.KindNotFound:
		h.logger.Warn("Upstream failure", "path", r.URL.Path, "kind", kind, "error", err)
		respondWithError(w, http.StatusBadGateway, "Upstream service error")
	default:
		h.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeBody decodes an optional JSON body. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &apperrors.InvalidArgumentError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, &apperrors.InvalidArgumentError{Field: name, Reason: "must be a positive integer"}
	}
	return id, nil
}

// rangeParams reads the optional from/to query parameters as calendar days.
func rangeParams(r *http.Request) (aggregate.Range, error) {
	var rng aggregate.Range
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		v := r.URL.Query().Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return rng, &apperrors.InvalidArgumentError{Field: p.name, Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", v)}
		}
		*p.dst = t
	}
	return rng, rng.Validate()
}

// intParam reads an optional bounded integer query parameter.
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, &apperrors.InvalidArgumentError{Field: name, Reason: fmt.Sprintf("must be an integer between %d and %d", lo, hi)}
	}
	return n, nil
}
