package httpadapter

import (
	"net/http"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

// The chat surface answers blocked input 200 with a redirect message;
// ErrBlockedInput maps here for surfaces that refuse outright.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrBlockedInput):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrValidationExhausted):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrGenerationFailure):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
