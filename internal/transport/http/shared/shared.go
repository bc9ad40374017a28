// Package shared holds the JSON envelope and error translation used by every
// HTTP handler, so wire formats stay consistent across modules.
package shared

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "sign-gateway/pkg/domainerrors"
)

// errorResponse is the wire shape for every failed request.
type errorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteJSON writes v with the given status. Encoding failures are swallowed;
// the status line is already on the wire by then.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a coded domain error into its stable HTTP status and
// JSON envelope. Uncoded errors become opaque 500s.
func WriteError(w http.ResponseWriter, err error) {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		WriteJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   string(dErrors.CodeInternal),
			Message: "internal server error",
		})
		return
	}
	WriteJSON(w, StatusFor(de.Code), errorResponse{
		Error:   string(de.Code),
		Message: de.Message,
		Details: de.Details,
	})
}

// StatusFor maps a domain error code to its HTTP status. The mapping is part
// of the external contract; additions are fine, changes are not.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound, dErrors.CodeChallengeNotFound:
		return http.StatusNotFound
	case dErrors.CodeInvalidStateTransition, dErrors.CodeConflict, dErrors.CodeIdempotencyKeyConflict:
		return http.StatusConflict
	case dErrors.CodeInvalidChallengeCode:
		return http.StatusUnprocessableEntity
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeInvalidRoutingCondition:
		return http.StatusBadRequest
	case dErrors.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
