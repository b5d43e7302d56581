package ports

import (
	"context"
	"io"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

// TextGenerator produces free text or JSON from a prompt. Any LLM backend.
type TextGenerator interface {
	Generate(ctx context.Context, prompt, systemPrompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex stores chunk vectors and performs similarity search.
type VectorIndex interface {
	IndexChunks(ctx context.Context, doc *domain.Document, records []domain.ChunkRecord) error
	Search(ctx context.Context, queryVector []float32, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
	// SearchMeta returns only meta-chunks (negative indices) for the scope.
	SearchMeta(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.RetrievedChunk, error)
}

// KeywordIndex performs BM25-style lexical search over the same chunks.
type KeywordIndex interface {
	Search(ctx context.Context, query string, limit int, filter domain.SearchFilter) ([]domain.RetrievedChunk, error)
}

// Reranker scores candidates against a query with a cross-encoder-style
// model. Callers must treat errors as "fall back to fusion order".
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []domain.RetrievedChunk, topK int) ([]domain.RerankScore, error)
	IsAvailable() bool
}

// KnowledgeGraph exposes entity-neighborhood lookups used to widen
// retrieval. Lookup failure leaves retrieval results unmodified.
type KnowledgeGraph interface {
	FindRelated(ctx context.Context, entities []string, maxHops, limit int) ([]domain.RelatedEntity, error)
	IsAvailable(ctx context.Context) bool
}

// SessionStore keeps per-session conversation memory and the question
// history that the validator checks new questions against.
type SessionStore interface {
	AppendMessage(ctx context.Context, msg domain.SessionMessage) error
	ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.SessionMessage, error)
	NextTurn(ctx context.Context, sessionID, studentID string) (int, error)

	AppendQuestion(ctx context.Context, sessionID string, rec domain.QuestionRecord) error
	ListRecentQuestions(ctx context.Context, sessionID string, limit int) ([]domain.QuestionRecord, error)
	IncrementPatternUse(ctx context.Context, sessionID, pattern string) (int, error)
}

// DocumentRepository persists and reads document state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SaveProfile(ctx context.Context, id string, profile domain.DocumentProfile) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes document-processing events.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor extracts plain text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, doc *domain.Document) (string, error)
}

// Chunker splits text into semantically usable chunks.
type Chunker interface {
	Split(text string) []string
}
