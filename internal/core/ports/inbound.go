package ports

import (
	"context"
	"io"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

// SafetyValidator is the inbound contract for the layered moderation
// pipeline on student input and LLM output.
type SafetyValidator interface {
	ValidateInput(ctx context.Context, text string, grade int, studentID string) (*domain.SafetyCheckResult, error)
	ValidateOutput(ctx context.Context, output, originalQuestion string, grade int) (*domain.OutputValidationResult, error)
}

// AnswerService is the inbound contract for document-grounded answering and
// quiz generation.
type AnswerService interface {
	Chat(ctx context.Context, req domain.ChatRequest) (*domain.Answer, error)
	GenerateQuiz(ctx context.Context, req domain.QuizRequest) ([]domain.QuizQuestion, error)
}

// QuestionReviewer gates generated practice questions before they are
// served to a student.
type QuestionReviewer interface {
	Validate(ctx context.Context, req domain.QuestionValidationRequest) (*domain.ValidationResult, error)
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor is the inbound contract for asynchronous document
// processing.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) error
}
