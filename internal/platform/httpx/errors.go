package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/odyssey-erp/expenseflow/internal/shared"
)

var kindStatus = map[shared.Kind]int{
	shared.KindValidation:            http.StatusBadRequest,
	shared.KindNotFound:              http.StatusNotFound,
	shared.KindForbidden:             http.StatusForbidden,
	shared.KindUnauthorized:          http.StatusUnauthorized,
	shared.KindConflict:              http.StatusConflict,
	shared.KindConversionUnavailable: http.StatusServiceUnavailable,
	shared.KindInternal:              http.StatusInternalServerError,
}

// StatusFor returns the HTTP status used for the error's kind.
func StatusFor(err error) int {
	if status, ok := kindStatus[shared.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	kind := shared.KindOf(err)
	status := StatusFor(err)
	problem := ProblemDetail{
		Type:   string(kind),
		Title:  http.StatusText(status),
		Status: status,
		Detail: shared.UserSafeMessage(err),
	}
	var classified *shared.Error
	if errors.As(err, &classified) && len(classified.Fields) > 0 {
		problem.Errors = classified.Fields
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}
