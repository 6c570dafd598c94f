package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/alecgard/teambeat/internal/team"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// errorEnvelope is the standard error response shape.
type errorEnvelope struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes a JSON error response with the given status code.
func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// readJSON decodes the request body into v, enforcing a size limit.
func readJSON(r *http.Request, v any) error {
	lr := io.LimitReader(r.Body, maxBodySize)
	return json.NewDecoder(lr).Decode(v)
}

var validationErrors = []error{
	team.ErrNameRequired,
	team.ErrSendTimeInvalid,
	team.ErrTimezoneInvalid,
	team.ErrDaysOfWeekInvalid,
	team.ErrHoursOpenInvalid,
	team.ErrQuestionsInvalid,
	team.ErrUserIDRequired,
	team.ErrEmailRequired,
}

// isValidationError reports whether err is a team input validation failure.
func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeServiceError maps a service error onto a response, falling back to a
// 500 with fallback as the message.
func writeServiceError(w http.ResponseWriter, err error, what, fallback string) {
	switch {
	case errors.Is(err, team.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", what+" not found")
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", fallback)
	}
}
