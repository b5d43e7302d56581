package qdrant

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

// KeywordClient runs BM25-style lexical search against the sparse vectors of
// the same collection the dense Client indexes into. Indexing happens on the
// Client side; this type is query-only.
type KeywordClient struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func NewKeywordClient(baseURL, collection string) *KeywordClient {
	return &KeywordClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *KeywordClient) Search(
	ctx context.Context,
	query string,
	limit int,
	filter domain.SearchFilter,
) ([]domain.RetrievedChunk, error) {
	sparse := encodeSparseQuery(query)
	if sparse.Empty() {
		return nil, nil
	}

	must := scopeClauses(filter)
	must = append(must, map[string]any{
		"key":   "chunk_index",
		"range": map[string]any{"gte": 0},
	})

	reqBody := map[string]any{
		"query":        sparse,
		"using":        sparseVectorName,
		"limit":        limit,
		"with_payload": true,
		"filter":       map[string]any{"must": must},
	}

	points, err := queryPoints(ctx, c.httpClient, c.baseURL, c.collection, reqBody)
	if err != nil {
		return nil, err
	}
	chunks := chunksFromPoints(points)
	for i := range chunks {
		chunks[i].Similarity = normalizeSparseScore(chunks[i].Similarity)
	}
	return chunks, nil
}

// normalizeSparseScore maps qdrant's unbounded sparse dot-product into
// [0, 1) so keyword hits stay comparable with cosine similarities and the
// relevance thresholds downstream. Monotonic: stronger raw scores still
// rank higher.
func normalizeSparseScore(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}
