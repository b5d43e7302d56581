package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	// ErrBlockedInput marks a policy verdict, not a transport failure: the
	// caller receives a friendly redirect message, never a stack trace.
	ErrBlockedInput = errors.New("input blocked by safety policy")

	// ErrRetrievalUnavailable means the vector/keyword backends are down and
	// the request degraded to a no-context answer.
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

	// ErrGenerationFailure means the LLM call failed after retry.
	ErrGenerationFailure = errors.New("generation failure")

	// ErrValidationExhausted means generated questions failed uniqueness or
	// correctness checks after the retry budget; callers should regenerate a
	// fresh batch rather than serve partial results.
	ErrValidationExhausted = errors.New("question validation exhausted")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
