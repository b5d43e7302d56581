package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/learnloop/tutor-core/internal/core/domain"
	"github.com/learnloop/tutor-core/internal/infrastructure/resilience"
)

func testExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})
}

func TestGenerateSendsSystemPrompt(t *testing.T) {
	var reqBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		_, _ = w.Write([]byte(`{"response":"  an answer  "}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3", "nomic-embed-text"))
	got, err := gen.Generate(context.Background(), "question", "you are a tutor")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "an answer" {
		t.Fatalf("response not trimmed: %q", got)
	}
	if reqBody["model"] != "llama3" || reqBody["system"] != "you are a tutor" {
		t.Fatalf("unexpected request body: %v", reqBody)
	}
	if reqBody["stream"] != false {
		t.Fatalf("streaming must be disabled: %v", reqBody["stream"])
	}
	if _, hasFormat := reqBody["format"]; hasFormat {
		t.Fatalf("plain generation must not constrain format: %v", reqBody)
	}
}

func TestGenerateJSONConstrainsFormat(t *testing.T) {
	var reqBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		_, _ = w.Write([]byte(`{"response":"{\"a\":1}"}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3", "nomic-embed-text"))
	got, err := gen.GenerateJSON(context.Background(), "classify this")
	if err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if got != `{"a":1}` {
		t.Fatalf("unexpected response: %q", got)
	}
	if reqBody["format"] != "json" {
		t.Fatalf("expected json format, got %v", reqBody["format"])
	}
	if _, hasSystem := reqBody["system"]; hasSystem {
		t.Fatalf("empty system prompt must be omitted: %v", reqBody)
	}
}

func TestEmbedCachesByContent(t *testing.T) {
	var calls int32
	var lastInput []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(&calls, 1)
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		lastInput = req.Input
		vectors := make([][]float32, len(req.Input))
		for i := range vectors {
			vectors[i] = []float32{float32(i), 1}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "llama3", "nomic-embed-text"))

	first, err := embedder.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("first Embed() error = %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(first))
	}

	// Second batch overlaps the first: only the new text goes to the server.
	second, err := embedder.Embed(context.Background(), []string{"alpha", "gamma"})
	if err != nil {
		t.Fatalf("second Embed() error = %v", err)
	}
	if len(second) != 2 || second[0] == nil || second[1] == nil {
		t.Fatalf("cached and fresh vectors must both be filled: %v", second)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 backend calls, got %d", got)
	}
	if len(lastInput) != 1 || lastInput[0] != "gamma" {
		t.Fatalf("only the uncached text should be embedded, got %v", lastInput)
	}

	// Fully cached batch needs no backend at all.
	if _, err := embedder.Embed(context.Background(), []string{"beta", "gamma"}); err != nil {
		t.Fatalf("cached Embed() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("cached batch must not call the backend, got %d calls", got)
	}
}

func TestGenerateRetriesRetryableStatus(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"recovered"}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3", "nomic-embed-text", WithExecutor(testExecutor())))
	got, err := gen.Generate(context.Background(), "q", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "recovered" {
		t.Fatalf("unexpected response: %q", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestGenerateExhaustedRetriesWrapTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3", "nomic-embed-text", WithExecutor(testExecutor())))
	_, err := gen.Generate(context.Background(), "q", "")
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("want ErrTemporary, got %v", err)
	}
}

func TestGenerateDoesNotRetryClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "llama3", "nomic-embed-text", WithExecutor(testExecutor())))
	_, err := gen.Generate(context.Background(), "q", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("client errors are not temporary: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", calls)
	}
}

func TestEmbedVectorCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "llama3", "nomic-embed-text"))
	_, err := embedder.Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}
