package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Business-rule violations carry their reason code in the problem type and
// surface as 422; validation failures also map to 422 per the API contract.
func RespondError(w http.ResponseWriter, err error) {
	var be *shared.BusinessError
	switch {
	case errors.As(err, &be):
		ProblemTyped(w, http.StatusUnprocessableEntity, be.Reason, "Business Rule Violation", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
