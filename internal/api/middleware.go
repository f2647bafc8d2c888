package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"nexus/internal/logging"
	"nexus/internal/models"
)

type ctxKey struct{}

// RequireAuth resolves the token header or cookie and stores the user id in
// the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

// RequireSameOrigin rejects browser requests whose Origin does not match the
// host they were sent to.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				writeError(w, http.StatusForbidden, "Cross-origin request rejected")
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logging.For("api")
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps sentinel errors to status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, models.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "Already exists")
	case errors.Is(err, models.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, models.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid input")
	default:
		log := logging.For("api")
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}
