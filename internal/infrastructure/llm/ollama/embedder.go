package ollama

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
)

// Embedding the same chunk or query twice is common (reprocessing, repeated
// questions), so vectors are cached by content hash. The cache resets
// wholesale past the cap rather than tracking recency.
const embedCacheCap = 4096

type Embedder struct {
	client *Client

	mu    sync.RWMutex
	cache map[[32]byte][]float32
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{
		client: client,
		cache:  make(map[[32]byte][]float32),
	}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingAt := make([]int, 0, len(texts))

	e.mu.RLock()
	for i, text := range texts {
		if vec, ok := e.cache[sha256.Sum256([]byte(text))]; ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	e.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := e.client.embed(ctx, missing)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if len(e.cache) > embedCacheCap {
		e.cache = make(map[[32]byte][]float32)
	}
	for i, vec := range vectors {
		out[missingAt[i]] = vec
		e.cache[sha256.Sum256([]byte(missing[i]))] = vec
	}
	e.mu.Unlock()

	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}
