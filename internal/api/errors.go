package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/report-api/internal/api/shared"
	"github.com/phrazzld/report-api/internal/blob"
	"github.com/phrazzld/report-api/internal/catalog"
	"github.com/phrazzld/report-api/internal/domain"
	"github.com/phrazzld/report-api/internal/redact"
	"github.com/phrazzld/report-api/internal/service"
	"github.com/phrazzld/report-api/internal/store"
)

// ErrUnauthorized is returned when a handler runs without an authenticated caller.
var ErrUnauthorized = errors.New("unauthorized")

// MapErrorToStatusCode maps internal errors to HTTP status codes without
// exposing internal error types to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	case errors.Is(err, service.ErrNotOwned):
		return http.StatusForbidden

	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, catalog.ErrUnknownReportType),
		errors.Is(err, catalog.ErrUnknownFilter):
		return http.StatusNotFound

	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	case errors.Is(err, service.ErrValidation),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, catalog.ErrFilterNotDynamic),
		errors.Is(err, catalog.ErrInvalidConfig),
		errors.Is(err, blob.ErrInvalidReference),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err. Validation
// errors keep their (redacted) detail so callers can fix the request;
// everything else gets a fixed message.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Authentication required"

	case errors.Is(err, service.ErrNotOwned):
		return "You do not own this resource"

	case errors.Is(err, catalog.ErrUnknownReportType):
		return "Report type not found"
	case errors.Is(err, catalog.ErrUnknownFilter):
		return "Filter not found"
	case errors.Is(err, store.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, store.ErrTemplateNotFound):
		return "Template not found"
	case errors.Is(err, service.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, service.ErrFileNotReady):
		return "Report file is not available"
	case errors.Is(err, service.ErrInvalidTransition), errors.Is(err, store.ErrStatusConflict):
		return "Job status does not allow this action"

	case errors.Is(err, blob.ErrInvalidReference):
		return "Stored file reference is invalid"
	case errors.Is(err, catalog.ErrFilterNotDynamic):
		return "Filter has no dynamic values"
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, catalog.ErrInvalidConfig):
		return "Invalid request: " + validationDetail(err)

	default:
		return "An unexpected error occurred"
	}
}

// validationDetail drops the generic sentinel prefixes from a wrapped
// validation error and redacts the rest.
func validationDetail(err error) string {
	msg := err.Error()
	for _, prefix := range []string{
		service.ErrValidation.Error() + ": ",
		domain.ErrValidation.Error() + ": ",
	} {
		msg = strings.TrimPrefix(msg, prefix)
	}
	return redact.String(msg)
}

// SanitizeValidationError turns validator errors into a short message
// naming the first offending field.
func SanitizeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), validationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

func validationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the mapped status and safe message for err.
// fallback replaces the message of internal errors when non-empty.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	msg := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		msg = fallback
	}

	var opts []shared.ResponseOption
	if status == http.StatusForbidden {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, msg, err, opts...)
}
