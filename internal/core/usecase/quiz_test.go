package usecase

import (
	"context"
	"testing"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

type reviewerFake struct {
	verdicts []domain.ValidationResult
	calls    int
}

func (f *reviewerFake) Validate(context.Context, domain.QuestionValidationRequest) (*domain.ValidationResult, error) {
	f.calls++
	if len(f.verdicts) == 0 {
		return &domain.ValidationResult{Valid: true}, nil
	}
	verdict := f.verdicts[0]
	if len(f.verdicts) > 1 {
		f.verdicts = f.verdicts[1:]
	}
	return &verdict, nil
}

func newQuizEngine(gen *scriptedGenerator, reviewer *reviewerFake) *AnswerEngine {
	vectors := &answerVectorFake{metas: []domain.RetrievedChunk{
		{ChunkID: "meta-1", ChunkIndex: domain.DocumentSummaryIndex, Content: "The water cycle moves water between oceans, air, and land."},
	}}
	retriever := NewHybridRetriever(vectors, &hybridKeywordFake{}, nil)
	return NewAnswerEngine(gen, &answerEmbedderFake{}, retriever, vectors, nil, nil, reviewer)
}

const quizBatchJSON = `[
  {"question": "What drives evaporation?", "answer": "The sun", "options": ["The sun", "The moon", "Wind", "Rocks"], "subject": "science"},
  {"question": "What falls as precipitation?", "answer": "Water", "options": ["Water", "Sand", "Leaves", "Light"], "subject": "science"}
]`

func TestGenerateQuizHappyPath(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{quizBatchJSON}}
	reviewer := &reviewerFake{}
	engine := newQuizEngine(gen, reviewer)

	questions, err := engine.GenerateQuiz(context.Background(), domain.QuizRequest{
		NumQuestions: 2, Grade: 5, SessionID: "s-1",
	})
	if err != nil {
		t.Fatalf("GenerateQuiz() error = %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("want 2 questions, got %d", len(questions))
	}
	if reviewer.calls != 2 {
		t.Fatalf("every question must be reviewed, got %d calls", reviewer.calls)
	}
	for _, q := range questions {
		if q.ID == "" || q.Grade != 5 {
			t.Fatalf("question missing id or grade: %+v", q)
		}
	}
}

func TestGenerateQuizRegeneratesRejects(t *testing.T) {
	singleQuestion := `[{"question": "What drives evaporation?", "answer": "The sun", "options": ["The sun", "Wind"], "subject": "science"}]`
	gen := &scriptedGenerator{replies: []string{singleQuestion, singleQuestion}}
	reviewer := &reviewerFake{verdicts: []domain.ValidationResult{
		{Valid: false, FailedCheck: checkDuplicate, Reason: "duplicate"},
		{Valid: true},
	}}
	engine := newQuizEngine(gen, reviewer)

	questions, err := engine.GenerateQuiz(context.Background(), domain.QuizRequest{
		NumQuestions: 1, Grade: 4, SessionID: "s-1",
	})
	if err != nil {
		t.Fatalf("GenerateQuiz() error = %v", err)
	}
	if len(questions) != 1 {
		t.Fatalf("want 1 question after regeneration, got %d", len(questions))
	}
	if reviewer.calls != 2 {
		t.Fatalf("want 2 review calls, got %d", reviewer.calls)
	}
}

func TestGenerateQuizValidationExhausted(t *testing.T) {
	singleQuestion := `[{"question": "What drives evaporation?", "answer": "The sun", "options": ["The sun", "Wind"], "subject": "science"}]`
	gen := &scriptedGenerator{replies: []string{singleQuestion}}
	reviewer := &reviewerFake{verdicts: []domain.ValidationResult{
		{Valid: false, FailedCheck: checkDuplicate, Reason: "duplicate"},
	}}
	engine := newQuizEngine(gen, reviewer)

	_, err := engine.GenerateQuiz(context.Background(), domain.QuizRequest{
		NumQuestions: 1, Grade: 4, SessionID: "s-1",
	})
	if !domain.IsKind(err, domain.ErrValidationExhausted) {
		t.Fatalf("want ErrValidationExhausted, got %v", err)
	}
}

func TestGenerateQuizNoDocumentsInScope(t *testing.T) {
	vectors := &answerVectorFake{}
	retriever := NewHybridRetriever(vectors, &hybridKeywordFake{}, nil)
	engine := NewAnswerEngine(&scriptedGenerator{}, &answerEmbedderFake{}, retriever, vectors, nil, nil, &reviewerFake{})

	_, err := engine.GenerateQuiz(context.Background(), domain.QuizRequest{NumQuestions: 3, Grade: 5})
	if !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("want ErrDocumentNotFound, got %v", err)
	}
}

func TestGenerateQuizToleratesCodeFence(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"```json\n" + quizBatchJSON + "\n```"}}
	engine := newQuizEngine(gen, &reviewerFake{})

	questions, err := engine.GenerateQuiz(context.Background(), domain.QuizRequest{
		NumQuestions: 2, Grade: 5, SessionID: "s-1",
	})
	if err != nil {
		t.Fatalf("GenerateQuiz() error = %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("want 2 questions, got %d", len(questions))
	}
}
