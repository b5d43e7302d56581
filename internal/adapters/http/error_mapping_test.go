package httpadapter

import (
	"errors"
	"net/http"
	"testing"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

func TestMapErrorToHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"blocked input", domain.WrapError(domain.ErrBlockedInput, "quiz", errors.New("policy verdict")), http.StatusForbidden},
		{"invalid input", domain.WrapError(domain.ErrInvalidInput, "chat", errors.New("empty query")), http.StatusBadRequest},
		{"unauthorized", domain.ErrUnauthorized, http.StatusUnauthorized},
		{"not found", domain.WrapError(domain.ErrDocumentNotFound, "get", errors.New("no rows")), http.StatusNotFound},
		{"validation exhausted", domain.ErrValidationExhausted, http.StatusUnprocessableEntity},
		{"generation failure", domain.WrapError(domain.ErrGenerationFailure, "chat", errors.New("llm timeout")), http.StatusBadGateway},
		{"temporary", domain.ErrTemporary, http.StatusServiceUnavailable},
		{"retrieval unavailable", domain.WrapError(domain.ErrRetrievalUnavailable, "search", errors.New("both backends down")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := mapErrorToHTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%s: mapErrorToHTTPStatus() = %d, want %d", tc.name, got, tc.want)
		}
	}
}
