package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/report-api/internal/api/shared"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/platform/logger"
)

// requireIdentity returns the authenticated caller or writes a 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		logger.FromContext(r.Context()).Warn("identity not found in request context")
		HandleAPIError(w, r, ErrUnauthorized, "")
		return shared.Identity{}, false
	}
	return id, true
}

// getPathUUID parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	raw := chi.URLParam(r, paramName)
	if raw == "" {
		return uuid.Nil, domain.ErrInvalidID
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidID
	}
	return id, nil
}

// handleIdentityAndPathUUID extracts the caller and a UUID path parameter,
// writing an error response if either is missing.
func handleIdentityAndPathUUID(
	w http.ResponseWriter,
	r *http.Request,
	paramName string,
) (shared.Identity, uuid.UUID, bool) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return shared.Identity{}, uuid.Nil, false
	}

	pathID, err := getPathUUID(r, paramName)
	if err != nil {
		logger.FromContext(r.Context()).Debug("invalid path parameter",
			slog.String("param_name", paramName),
			slog.String("value", chi.URLParam(r, paramName)))
		HandleAPIError(w, r, err, "")
		return shared.Identity{}, uuid.Nil, false
	}
	return identity, pathID, true
}

// decodeAndValidate reads a JSON body into v and validates it, writing a
// 400 on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}
