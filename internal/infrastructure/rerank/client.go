package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

// Client calls a cross-encoder reranking service with the TEI/cohere-style
// /rerank contract. An unset base URL means reranking is disabled and hybrid
// search falls back to fusion order.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) IsAvailable() bool {
	return c != nil && c.baseURL != ""
}

func (c *Client) Rerank(
	ctx context.Context,
	query string,
	candidates []domain.RetrievedChunk,
	topK int,
) ([]domain.RerankScore, error) {
	if !c.IsAvailable() {
		return nil, fmt.Errorf("reranker not configured")
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	documents := make([]string, len(candidates))
	for i, candidate := range candidates {
		documents[i] = candidate.Content
	}

	body, err := json.Marshal(map[string]any{
		"query":     query,
		"documents": documents,
		"top_n":     topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("rerank status: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var rerankResp struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rerankResp); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	out := make([]domain.RerankScore, 0, len(rerankResp.Results))
	for _, result := range rerankResp.Results {
		if result.Index < 0 || result.Index >= len(candidates) {
			return nil, fmt.Errorf("rerank index %d out of range", result.Index)
		}
		out = append(out, domain.RerankScore{
			ChunkID:   candidates[result.Index].ChunkID,
			Relevance: result.RelevanceScore,
		})
	}
	return out, nil
}
