package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

const quizSourceChunkLimit = 10

type generatedQuestion struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Options  []string `json:"options"`
	Subject  string   `json:"subject"`
}

// GenerateQuiz builds a validated batch of practice questions from the
// scoped documents. Every candidate passes through the question reviewer;
// rejected questions are regenerated once. A batch that still cannot be
// filled is an explicit failure so the caller can request a fresh one.
func (e *AnswerEngine) GenerateQuiz(ctx context.Context, req domain.QuizRequest) ([]domain.QuizQuestion, error) {
	if req.NumQuestions <= 0 {
		req.NumQuestions = 5
	}

	source, err := e.quizSourceMaterial(ctx, req.Scope)
	if err != nil {
		return nil, err
	}

	accepted := make([]domain.QuizQuestion, 0, req.NumQuestions)
	rejections := make([]string, 0, 2)

	for round := 0; round < 2 && len(accepted) < req.NumQuestions; round++ {
		need := req.NumQuestions - len(accepted)
		candidates, genErr := e.generateQuestionBatch(ctx, source, need, req.Grade, rejections)
		if genErr != nil {
			return nil, domain.WrapError(domain.ErrGenerationFailure, "generate quiz", genErr)
		}

		for _, cand := range candidates {
			if len(accepted) == req.NumQuestions {
				break
			}
			verdict, valErr := e.reviewer.Validate(ctx, domain.QuestionValidationRequest{
				Question:  cand.Question,
				SessionID: req.SessionID,
				Grade:     req.Grade,
				Subject:   cand.Subject,
				Answer:    cand.Answer,
				Options:   cand.Options,
			})
			if valErr != nil {
				return nil, fmt.Errorf("validate question: %w", valErr)
			}
			if !verdict.Valid {
				rejections = append(rejections, verdict.Reason)
				continue
			}
			accepted = append(accepted, domain.QuizQuestion{
				ID:       uuid.NewString(),
				Question: cand.Question,
				Answer:   cand.Answer,
				Options:  cand.Options,
				Subject:  cand.Subject,
				Grade:    req.Grade,
			})
		}
	}

	if len(accepted) < req.NumQuestions {
		return nil, domain.WrapError(domain.ErrValidationExhausted, "generate quiz",
			fmt.Errorf("only %d of %d questions passed validation", len(accepted), req.NumQuestions))
	}
	return accepted, nil
}

// quizSourceMaterial prefers document and section summaries as source text;
// a scope with no summaries yet is not quizzable.
func (e *AnswerEngine) quizSourceMaterial(ctx context.Context, scope domain.SearchFilter) (string, error) {
	metas, err := e.vectors.SearchMeta(ctx, scope, quizSourceChunkLimit)
	if err != nil {
		return "", domain.WrapError(domain.ErrRetrievalUnavailable, "quiz source material", err)
	}
	if len(metas) == 0 {
		return "", domain.WrapError(domain.ErrDocumentNotFound, "quiz source material",
			fmt.Errorf("no processed documents in scope"))
	}

	var b strings.Builder
	for _, m := range metas {
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

const quizPromptTemplate = `Create %d quiz questions for a grade %d student from the study material below.
Return ONLY a JSON array, each element: {"question": "...", "answer": "...", "options": ["...", "...", "...", "..."], "subject": "..."}.
Options must include the correct answer. Vary the wording, numbers, and examples between questions.%s

Study material:
%s`

func (e *AnswerEngine) generateQuestionBatch(
	ctx context.Context,
	source string,
	count, grade int,
	rejections []string,
) ([]generatedQuestion, error) {
	avoid := ""
	if len(rejections) > 0 {
		avoid = "\nEarlier attempts were rejected for: " + strings.Join(rejections, "; ") + ". Avoid those problems."
	}

	raw, err := e.generator.GenerateJSON(ctx, fmt.Sprintf(quizPromptTemplate, count, grade, avoid, source))
	if err != nil {
		return nil, fmt.Errorf("generate question batch: %w", err)
	}

	var out []generatedQuestion
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse question batch: %w", err)
	}
	return out, nil
}

// stripCodeFence tolerates models that wrap JSON in a markdown fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
