package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/learnloop/tutor-core/internal/core/domain"
	"github.com/learnloop/tutor-core/internal/core/ports"
)

const (
	defaultRRFK               = 60
	defaultRelevanceThreshold = 0.3
	relevanceFallbackCount    = 3
)

// HybridRetriever combines vector and keyword search with reciprocal rank
// fusion and an optional cross-encoder rerank stage.
type HybridRetriever struct {
	vectors  ports.VectorIndex
	keywords ports.KeywordIndex
	reranker ports.Reranker

	rrfK               int
	relevanceThreshold float64
}

type HybridRetrieverOption func(*HybridRetriever)

func WithRRFK(k int) HybridRetrieverOption {
	return func(r *HybridRetriever) {
		if k > 0 {
			r.rrfK = k
		}
	}
}

func WithRelevanceThreshold(threshold float64) HybridRetrieverOption {
	return func(r *HybridRetriever) {
		if threshold > 0 {
			r.relevanceThreshold = threshold
		}
	}
}

func NewHybridRetriever(
	vectors ports.VectorIndex,
	keywords ports.KeywordIndex,
	reranker ports.Reranker,
	opts ...HybridRetrieverOption,
) *HybridRetriever {
	r := &HybridRetriever{
		vectors:            vectors,
		keywords:           keywords,
		reranker:           reranker,
		rrfK:               defaultRRFK,
		relevanceThreshold: defaultRelevanceThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search retrieves topK chunks for the query. Either backend may fail
// independently; only when both are down does the call error.
func (r *HybridRetriever) Search(
	ctx context.Context,
	query string,
	queryVector []float32,
	topK int,
	filter domain.SearchFilter,
	useReranker bool,
) ([]domain.HybridSearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	candidateLimit := topK * 2

	vectorHits, vectorErr := r.vectors.Search(ctx, queryVector, candidateLimit, filter)
	keywordHits, keywordErr := r.keywords.Search(ctx, query, candidateLimit, filter)
	if vectorErr != nil && keywordErr != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "hybrid search",
			fmt.Errorf("vector: %v; keyword: %v", vectorErr, keywordErr))
	}

	fused := r.fuse(vectorHits, keywordHits)
	if len(fused) > candidateLimit {
		fused = fused[:candidateLimit]
	}

	if useReranker && r.reranker != nil && r.reranker.IsAvailable() {
		if reranked, err := r.rerank(ctx, query, fused, topK); err == nil {
			return reranked, nil
		}
	}

	// Fusion order is the fallback whenever reranking is off or broken.
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// FilterRelevant drops results whose comparable score is below the
// relevance threshold. When nothing clears it, the best three survive so an
// answer attempt is always made.
func (r *HybridRetriever) FilterRelevant(results []domain.HybridSearchResult) []domain.HybridSearchResult {
	kept := make([]domain.HybridSearchResult, 0, len(results))
	for _, res := range results {
		if res.ComparableScore() >= r.relevanceThreshold {
			kept = append(kept, res)
		}
	}
	if len(kept) > 0 {
		return kept
	}

	fallback := make([]domain.HybridSearchResult, len(results))
	copy(fallback, results)
	sort.SliceStable(fallback, func(i, j int) bool {
		return fallback[i].ComparableScore() > fallback[j].ComparableScore()
	})
	if len(fallback) > relevanceFallbackCount {
		fallback = fallback[:relevanceFallbackCount]
	}
	return fallback
}

// fuse merges the two ranked lists with reciprocal rank fusion. A chunk in
// only one list still earns its partial score.
func (r *HybridRetriever) fuse(vectorHits, keywordHits []domain.RetrievedChunk) []domain.HybridSearchResult {
	acc := make(map[string]*domain.HybridSearchResult, len(vectorHits)+len(keywordHits))

	for rank, chunk := range vectorHits {
		res := fusedCandidate(acc, chunk)
		res.VectorScore = chunk.Similarity
		res.FusionScore += 1.0 / float64(r.rrfK+rank+1)
	}
	for rank, chunk := range keywordHits {
		res := fusedCandidate(acc, chunk)
		res.BM25Score = chunk.Similarity
		res.FusionScore += 1.0 / float64(r.rrfK+rank+1)
	}

	out := make([]domain.HybridSearchResult, 0, len(acc))
	for _, res := range acc {
		out = append(out, *res)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusionScore != out[j].FusionScore {
			return out[i].FusionScore > out[j].FusionScore
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	return out
}

func fusedCandidate(acc map[string]*domain.HybridSearchResult, chunk domain.RetrievedChunk) *domain.HybridSearchResult {
	res, ok := acc[chunk.ChunkID]
	if !ok {
		res = &domain.HybridSearchResult{RetrievedChunk: chunk}
		acc[chunk.ChunkID] = res
		return res
	}
	if res.Content == "" && chunk.Content != "" {
		res.Content = chunk.Content
	}
	if res.Filename == "" && chunk.Filename != "" {
		res.Filename = chunk.Filename
	}
	return res
}

func (r *HybridRetriever) rerank(
	ctx context.Context,
	query string,
	candidates []domain.HybridSearchResult,
	topK int,
) ([]domain.HybridSearchResult, error) {
	chunks := make([]domain.RetrievedChunk, len(candidates))
	for i, c := range candidates {
		chunks[i] = c.RetrievedChunk
	}

	scores, err := r.reranker.Rerank(ctx, query, chunks, topK)
	if err != nil {
		return nil, fmt.Errorf("rerank candidates: %w", err)
	}

	byID := make(map[string]float64, len(scores))
	for _, s := range scores {
		byID[s.ChunkID] = s.Relevance
	}

	out := make([]domain.HybridSearchResult, 0, len(candidates))
	for _, c := range candidates {
		raw, ok := byID[c.ChunkID]
		if !ok {
			continue
		}
		// Cross-encoders underscore broad summary queries, so the vector
		// score acts as a floor for threshold comparisons downstream.
		score := raw
		if c.VectorScore > score {
			score = c.VectorScore
		}
		c.RerankScore = &score
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
