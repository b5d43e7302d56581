package domain

// Chunk indices below zero are reserved for meta-chunks: -1 is the
// document-level summary, -2 and lower are section summaries.
const DocumentSummaryIndex = -1

type RetrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	ChunkIndex int     `json:"chunk_index"`
}

func (c RetrievedChunk) IsMeta() bool {
	return c.ChunkIndex < 0
}

// HybridSearchResult extends a retrieved chunk with the per-signal scores of
// hybrid search. FusionScore is RRF-derived (~0.01-0.03) and is never
// compared against relevance thresholds; RerankScore, when set, is already
// floored at VectorScore and is the threshold-comparable value.
type HybridSearchResult struct {
	RetrievedChunk
	VectorScore float64  `json:"vector_score"`
	BM25Score   float64  `json:"bm25_score"`
	FusionScore float64  `json:"fusion_score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// ComparableScore is the only score safe to hold against relevance
// thresholds downstream.
func (r HybridSearchResult) ComparableScore() float64 {
	if r.RerankScore != nil {
		return *r.RerankScore
	}
	return r.VectorScore
}

type RerankScore struct {
	ChunkID   string  `json:"chunk_id"`
	Relevance float64 `json:"relevance_score"`
}

type RelatedEntity struct {
	Name     string `json:"name"`
	Distance int    `json:"distance"`
}

// SearchFilter scopes retrieval to a document set and/or subject.
type SearchFilter struct {
	DocumentIDs []string
	Subject     string
}

func (f SearchFilter) Empty() bool {
	return len(f.DocumentIDs) == 0 && f.Subject == ""
}

type QueryRoute string

const (
	RouteMeta   QueryRoute = "meta"
	RouteDetail QueryRoute = "detail"
)

// GeneralKnowledgeSeparator splits the document-grounded section of an
// answer from general-knowledge additions. Downstream consumers rely on
// this exact string being present when both sections exist.
const GeneralKnowledgeSeparator = "\n\n--- From general knowledge ---\n"

type Answer struct {
	Text       string           `json:"answer"`
	Sources    []RetrievedChunk `json:"sources"`
	Grounded   bool             `json:"grounded"`
	Confidence float64          `json:"confidence"`
}

type ChatRequest struct {
	Query     string       `json:"query"`
	Scope     SearchFilter `json:"-"`
	StudentID string       `json:"student_id"`
	Grade     int          `json:"grade"`
	SessionID string       `json:"session_id,omitempty"`
}
