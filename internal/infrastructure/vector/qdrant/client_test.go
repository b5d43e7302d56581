package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

func TestIndexChunksEnsuresCollectionOncePerVectorSize(t *testing.T) {
	var ensureCalls int32
	var ensureBody, upsertBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
			atomic.AddInt32(&ensureCalls, 1)
			_ = json.NewDecoder(r.Body).Decode(&ensureBody)
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
			_ = json.NewDecoder(r.Body).Decode(&upsertBody)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	doc := &domain.Document{ID: "doc-1", Filename: "cycle.txt", Subject: "science"}
	records := []domain.ChunkRecord{
		{Index: 0, Content: "evaporation", Vector: []float32{0.1, 0.2}},
		{Index: domain.DocumentSummaryIndex, Content: "the water cycle", Vector: []float32{0.3, 0.4}},
	}

	if err := client.IndexChunks(context.Background(), doc, records); err != nil {
		t.Fatalf("first IndexChunks() error = %v", err)
	}
	if err := client.IndexChunks(context.Background(), doc, records); err != nil {
		t.Fatalf("second IndexChunks() error = %v", err)
	}
	if got := atomic.LoadInt32(&ensureCalls); got != 1 {
		t.Fatalf("expected ensure collection called once, got %d", got)
	}

	if _, ok := ensureBody["sparse_vectors"].(map[string]any)[sparseVectorName]; !ok {
		t.Fatalf("collection must declare the sparse vector: %v", ensureBody)
	}

	points := upsertBody["points"].([]any)
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	meta := points[1].(map[string]any)
	payload := meta["payload"].(map[string]any)
	if payload["doc_id"] != "doc-1" || payload["subject"] != "science" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["chunk_index"].(float64) != float64(domain.DocumentSummaryIndex) {
		t.Fatalf("meta-chunk index lost: %v", payload["chunk_index"])
	}
	vector := meta["vector"].(map[string]any)
	if _, ok := vector[denseVectorName]; !ok {
		t.Fatalf("dense vector missing: %v", vector)
	}
	if _, ok := vector[sparseVectorName]; !ok {
		t.Fatalf("sparse vector missing: %v", vector)
	}
}

func TestIndexChunksPointIDsAreStable(t *testing.T) {
	if pointID("doc-1", 3) != pointID("doc-1", 3) {
		t.Fatal("point ids must be deterministic")
	}
	if pointID("doc-1", 3) == pointID("doc-1", 4) {
		t.Fatal("point ids must differ per chunk")
	}
	if pointID("doc-1", 3) == pointID("doc-2", 3) {
		t.Fatal("point ids must differ per document")
	}
}

func TestEnsureCollectionIncludesResponseBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/collections/docs" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	doc := &domain.Document{ID: "doc-1", Filename: "a.txt"}
	err := client.IndexChunks(context.Background(), doc, []domain.ChunkRecord{
		{Index: 0, Content: "a", Vector: []float32{0.1, 0.2}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected error to include body, got %v", err)
	}
}

func TestSearchScopesToContentChunks(t *testing.T) {
	var queryBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/query" {
			_ = json.NewDecoder(r.Body).Decode(&queryBody)
			_, _ = w.Write([]byte(`{"result":{"points":[
				{"id":"p1","score":0.82,"payload":{"doc_id":"doc-1","filename":"cycle.txt","text":"evaporation","chunk_index":2}}
			]}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	chunks, err := client.Search(context.Background(), []float32{0.1, 0.2}, 5, domain.SearchFilter{
		DocumentIDs: []string{"doc-1"},
		Subject:     "science",
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	got := chunks[0]
	if got.ChunkID != "p1" || got.DocumentID != "doc-1" || got.Similarity != 0.82 || got.ChunkIndex != 2 {
		t.Fatalf("unexpected chunk: %+v", got)
	}

	if queryBody["using"] != denseVectorName {
		t.Fatalf("dense search must use the dense vector, got %v", queryBody["using"])
	}
	must := queryBody["filter"].(map[string]any)["must"].([]any)
	if len(must) != 3 {
		t.Fatalf("expected doc, subject and content-only clauses, got %v", must)
	}
	last := must[len(must)-1].(map[string]any)
	if last["key"] != "chunk_index" {
		t.Fatalf("content search must exclude meta-chunks, got %v", last)
	}
}

func TestSearchMetaSummaryFirst(t *testing.T) {
	var scrollBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/scroll" {
			_ = json.NewDecoder(r.Body).Decode(&scrollBody)
			_, _ = w.Write([]byte(`{"result":{"points":[
				{"id":"s2","payload":{"doc_id":"doc-1","text":"section two","chunk_index":-3}},
				{"id":"sum","payload":{"doc_id":"doc-1","text":"the summary","chunk_index":-1}},
				{"id":"s1","payload":{"doc_id":"doc-1","text":"section one","chunk_index":-2}}
			]}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := New(server.URL, "docs")
	metas, err := client.SearchMeta(context.Background(), domain.SearchFilter{DocumentIDs: []string{"doc-1"}}, 8)
	if err != nil {
		t.Fatalf("SearchMeta() error = %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("expected 3 meta-chunks, got %d", len(metas))
	}
	if metas[0].ChunkID != "sum" || metas[1].ChunkID != "s1" || metas[2].ChunkID != "s2" {
		t.Fatalf("summary must lead, sections follow in order: %+v", metas)
	}
	for _, m := range metas {
		if m.Similarity != 1.0 {
			t.Fatalf("meta-chunks carry full similarity, got %v", m.Similarity)
		}
	}

	must := scrollBody["filter"].(map[string]any)["must"].([]any)
	found := false
	for _, clause := range must {
		m := clause.(map[string]any)
		if m["key"] == "chunk_index" {
			found = true
			if _, ok := m["range"].(map[string]any)["lt"]; !ok {
				t.Fatalf("meta filter must select negative indices: %v", m)
			}
		}
	}
	if !found {
		t.Fatalf("meta filter missing chunk_index clause: %v", must)
	}
}

func TestKeywordSearchUsesSparseVector(t *testing.T) {
	var queryBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/query" {
			_ = json.NewDecoder(r.Body).Decode(&queryBody)
			_, _ = w.Write([]byte(`{"result":{"points":[
				{"id":"p1","score":3.4,"payload":{"doc_id":"doc-1","text":"evaporation","chunk_index":0}}
			]}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewKeywordClient(server.URL, "docs")
	chunks, err := client.Search(context.Background(), "evaporation in the water cycle", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0].Similarity != float64(3.4)/(3.4+1) {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}

	if queryBody["using"] != sparseVectorName {
		t.Fatalf("keyword search must use the sparse vector, got %v", queryBody["using"])
	}
	sparse := queryBody["query"].(map[string]any)
	if len(sparse["indices"].([]any)) == 0 {
		t.Fatalf("sparse query vector empty: %v", sparse)
	}
}

func TestKeywordSearchSimilarityStaysBelowOne(t *testing.T) {
	// Raw sparse dot-products are unbounded; a single strong keyword hit
	// must not come back larger than any cosine similarity can be.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/query" {
			_, _ = w.Write([]byte(`{"result":{"points":[
				{"id":"p1","score":7.4,"payload":{"doc_id":"doc-1","text":"evaporation","chunk_index":0}},
				{"id":"p2","score":0.5,"payload":{"doc_id":"doc-1","text":"condensation","chunk_index":1}}
			]}}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := NewKeywordClient(server.URL, "docs")
	chunks, err := client.Search(context.Background(), "evaporation and condensation", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.Similarity < 0 || c.Similarity >= 1 {
			t.Fatalf("similarity %v for %s escapes [0, 1)", c.Similarity, c.ChunkID)
		}
	}
	if chunks[0].Similarity <= chunks[1].Similarity {
		t.Fatalf("normalization must preserve ranking: %v vs %v", chunks[0].Similarity, chunks[1].Similarity)
	}
	if chunks[0].Similarity != 7.4/(7.4+1) {
		t.Fatalf("want %v, got %v", 7.4/(7.4+1), chunks[0].Similarity)
	}
}

func TestNormalizeSparseScore(t *testing.T) {
	if got := normalizeSparseScore(-0.2); got != 0 {
		t.Fatalf("negative scores clamp to zero, got %v", got)
	}
	if got := normalizeSparseScore(0); got != 0 {
		t.Fatalf("zero stays zero, got %v", got)
	}
	if lo, hi := normalizeSparseScore(0.5), normalizeSparseScore(120); lo >= hi || hi >= 1 {
		t.Fatalf("normalization must be monotonic and bounded: %v, %v", lo, hi)
	}
}

func TestKeywordSearchNoiseQuerySkipsBackend(t *testing.T) {
	client := NewKeywordClient("http://unreachable.invalid", "docs")
	chunks, err := client.Search(context.Background(), "___---!!!", 5, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("noise query must not hit the backend: %v", err)
	}
	if chunks != nil {
		t.Fatalf("expected no chunks, got %+v", chunks)
	}
}
