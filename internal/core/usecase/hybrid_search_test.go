package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

type hybridVectorFake struct {
	hits []domain.RetrievedChunk
	err  error
}

func (f *hybridVectorFake) IndexChunks(context.Context, *domain.Document, []domain.ChunkRecord) error {
	return nil
}

func (f *hybridVectorFake) Search(context.Context, []float32, int, domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	return f.hits, f.err
}

func (f *hybridVectorFake) SearchMeta(context.Context, domain.SearchFilter, int) ([]domain.RetrievedChunk, error) {
	return nil, nil
}

type hybridKeywordFake struct {
	hits []domain.RetrievedChunk
	err  error
}

func (f *hybridKeywordFake) Search(context.Context, string, int, domain.SearchFilter) ([]domain.RetrievedChunk, error) {
	return f.hits, f.err
}

type hybridRerankerFake struct {
	scores    []domain.RerankScore
	err       error
	available bool
	calls     int
}

func (f *hybridRerankerFake) Rerank(context.Context, string, []domain.RetrievedChunk, int) ([]domain.RerankScore, error) {
	f.calls++
	return f.scores, f.err
}

func (f *hybridRerankerFake) IsAvailable() bool { return f.available }

func chunk(id string, index int, similarity float64) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		ChunkID:    id,
		DocumentID: "doc-1",
		ChunkIndex: index,
		Content:    "content " + id,
		Similarity: similarity,
	}
}

func TestSearchRRFDoubleListDominance(t *testing.T) {
	// "both" leads both lists; "solo" leads only the keyword list.
	vectors := &hybridVectorFake{hits: []domain.RetrievedChunk{chunk("both", 0, 0.9)}}
	keywords := &hybridKeywordFake{hits: []domain.RetrievedChunk{
		chunk("both", 0, 0.8),
		chunk("solo", 1, 0.7),
	}}
	r := NewHybridRetriever(vectors, keywords, nil)

	results, err := r.Search(context.Background(), "q", []float32{0.1}, 5, domain.SearchFilter{}, false)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("want 2 results, got %d", len(results))
	}
	if results[0].ChunkID != "both" {
		t.Fatalf("double-listed chunk must rank first, got %s", results[0].ChunkID)
	}
	if results[0].FusionScore <= results[1].FusionScore {
		t.Fatalf("double-listed fusion score %v must exceed single-list %v",
			results[0].FusionScore, results[1].FusionScore)
	}
	if results[1].FusionScore <= 0 {
		t.Fatal("single-list chunk still earns a partial score")
	}
}

func TestSearchOneBackendDownStillAnswers(t *testing.T) {
	vectors := &hybridVectorFake{err: errors.New("qdrant down")}
	keywords := &hybridKeywordFake{hits: []domain.RetrievedChunk{chunk("kw", 0, 0.6)}}
	r := NewHybridRetriever(vectors, keywords, nil)

	results, err := r.Search(context.Background(), "q", []float32{0.1}, 5, domain.SearchFilter{}, false)
	if err != nil {
		t.Fatalf("one healthy backend should suffice, got %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "kw" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSearchBothBackendsDown(t *testing.T) {
	r := NewHybridRetriever(
		&hybridVectorFake{err: errors.New("down")},
		&hybridKeywordFake{err: errors.New("down")},
		nil,
	)

	_, err := r.Search(context.Background(), "q", []float32{0.1}, 5, domain.SearchFilter{}, false)
	if !domain.IsKind(err, domain.ErrRetrievalUnavailable) {
		t.Fatalf("want ErrRetrievalUnavailable, got %v", err)
	}
}

func TestSearchRerankFailureFallsBackToFusionOrder(t *testing.T) {
	vectors := &hybridVectorFake{hits: []domain.RetrievedChunk{chunk("a", 0, 0.9), chunk("b", 1, 0.8)}}
	keywords := &hybridKeywordFake{hits: []domain.RetrievedChunk{chunk("a", 0, 0.5)}}
	reranker := &hybridRerankerFake{available: true, err: errors.New("rerank api down")}
	r := NewHybridRetriever(vectors, keywords, reranker)

	results, err := r.Search(context.Background(), "q", []float32{0.1}, 2, domain.SearchFilter{}, true)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if reranker.calls != 1 {
		t.Fatalf("reranker should have been tried, calls=%d", reranker.calls)
	}
	if results[0].ChunkID != "a" {
		t.Fatalf("fusion order expected on rerank failure, got %s first", results[0].ChunkID)
	}
	for _, res := range results {
		if res.RerankScore != nil {
			t.Fatalf("rerank score must be nil on fallback: %+v", res)
		}
	}
}

func TestSearchRerankScoreFlooredAtVectorScore(t *testing.T) {
	vectors := &hybridVectorFake{hits: []domain.RetrievedChunk{chunk("a", 0, 0.85)}}
	keywords := &hybridKeywordFake{hits: []domain.RetrievedChunk{chunk("a", 0, 0.4)}}
	// Cross-encoder underscores the chunk well below its vector score.
	reranker := &hybridRerankerFake{available: true, scores: []domain.RerankScore{{ChunkID: "a", Relevance: 0.2}}}
	r := NewHybridRetriever(vectors, keywords, reranker)

	results, err := r.Search(context.Background(), "q", []float32{0.1}, 1, domain.SearchFilter{}, true)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].RerankScore == nil {
		t.Fatalf("unexpected results: %+v", results)
	}
	if *results[0].RerankScore != 0.85 {
		t.Fatalf("rerank score must be floored at vector score 0.85, got %v", *results[0].RerankScore)
	}
	if results[0].ComparableScore() != 0.85 {
		t.Fatalf("comparable score must use the floored value, got %v", results[0].ComparableScore())
	}
}

func TestFilterRelevantThresholds(t *testing.T) {
	r := NewHybridRetriever(&hybridVectorFake{}, &hybridKeywordFake{}, nil)
	results := []domain.HybridSearchResult{
		{RetrievedChunk: chunk("high", 0, 0.8), VectorScore: 0.8},
		{RetrievedChunk: chunk("low", 1, 0.1), VectorScore: 0.1},
	}

	kept := r.FilterRelevant(results)
	if len(kept) != 1 || kept[0].ChunkID != "high" {
		t.Fatalf("want only the above-threshold chunk, got %+v", kept)
	}
}

func TestFilterRelevantTop3Fallback(t *testing.T) {
	r := NewHybridRetriever(&hybridVectorFake{}, &hybridKeywordFake{}, nil)
	results := []domain.HybridSearchResult{
		{RetrievedChunk: chunk("a", 0, 0.05), VectorScore: 0.05},
		{RetrievedChunk: chunk("b", 1, 0.25), VectorScore: 0.25},
		{RetrievedChunk: chunk("c", 2, 0.15), VectorScore: 0.15},
		{RetrievedChunk: chunk("d", 3, 0.10), VectorScore: 0.10},
	}

	kept := r.FilterRelevant(results)
	if len(kept) != 3 {
		t.Fatalf("want exactly 3 fallback chunks, got %d", len(kept))
	}
	if kept[0].ChunkID != "b" || kept[1].ChunkID != "c" || kept[2].ChunkID != "d" {
		t.Fatalf("fallback must keep the best three by score: %+v", kept)
	}
}
