package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/tutor-core/internal/core/domain"
)

const (
	denseVectorName  = "dense"
	sparseVectorName = "bm25"
)

// Client stores document chunks in one qdrant collection carrying a named
// dense vector and a named sparse vector per point, so semantic and lexical
// search run over the same points.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) IndexChunks(ctx context.Context, doc *domain.Document, records []domain.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		points = append(points, map[string]any{
			// Deterministic ids: reprocessing a document overwrites its
			// points instead of duplicating them.
			"id": pointID(doc.ID, rec.Index),
			"vector": map[string]any{
				denseVectorName:  rec.Vector,
				sparseVectorName: encodeSparseDocument(rec.Content, doc.Filename),
			},
			"payload": map[string]any{
				"doc_id":      doc.ID,
				"filename":    doc.Filename,
				"subject":     doc.Subject,
				"chunk_index": rec.Index,
				"text":        rec.Content,
			},
		})
	}

	body, err := json.Marshal(map[string]any{"points": points})
	if err != nil {
		return fmt.Errorf("marshal upsert body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create upsert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant upsert request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant upsert status: %s", resp.Status)
	}
	return nil
}

// Search runs dense similarity search over content chunks. Meta-chunks are
// excluded here and served by SearchMeta.
func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	limit int,
	filter domain.SearchFilter,
) ([]domain.RetrievedChunk, error) {
	must := scopeClauses(filter)
	must = append(must, map[string]any{
		"key":   "chunk_index",
		"range": map[string]any{"gte": 0},
	})

	reqBody := map[string]any{
		"query":        queryVector,
		"using":        denseVectorName,
		"limit":        limit,
		"with_payload": true,
		"filter":       map[string]any{"must": must},
	}

	points, err := queryPoints(ctx, c.httpClient, c.baseURL, c.collection, reqBody)
	if err != nil {
		return nil, err
	}
	return chunksFromPoints(points), nil
}

// SearchMeta returns the document and section summaries in scope, summary
// first. Scroll has no scores; summaries are authoritative for broad queries
// so they carry full similarity.
func (c *Client) SearchMeta(ctx context.Context, filter domain.SearchFilter, limit int) ([]domain.RetrievedChunk, error) {
	must := scopeClauses(filter)
	must = append(must, map[string]any{
		"key":   "chunk_index",
		"range": map[string]any{"lt": 0},
	})

	body, err := json.Marshal(map[string]any{
		"filter":       map[string]any{"must": must},
		"limit":        limit,
		"with_payload": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal scroll body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create scroll request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("qdrant scroll status: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var scrollResp struct {
		Result struct {
			Points []scoredPoint `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scrollResp); err != nil {
		return nil, fmt.Errorf("decode scroll response: %w", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(scrollResp.Result.Points))
	for _, p := range scrollResp.Result.Points {
		chunk := chunkFromPoint(p)
		chunk.Similarity = 1.0
		out = append(out, chunk)
	}
	// -1 (document summary) before -2, -3... (sections).
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkIndex > out[j].ChunkIndex })
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			denseVectorName: map[string]any{
				"size":     vectorSize,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]any{
			sparseVectorName: map[string]any{},
		},
	})
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant ensure collection request: %w", err)
	}
	defer resp.Body.Close()

	// 200/201 for create, 409 if it already exists.
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if trimmed := strings.TrimSpace(string(msg)); trimmed != "" {
			return fmt.Errorf("qdrant ensure collection status: %s: %s", resp.Status, trimmed)
		}
		return fmt.Errorf("qdrant ensure collection status: %s", resp.Status)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func pointID(docID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d", docID, chunkIndex))).String()
}

func scopeClauses(filter domain.SearchFilter) []map[string]any {
	must := make([]map[string]any, 0, 2)
	if len(filter.DocumentIDs) > 0 {
		must = append(must, map[string]any{
			"key":   "doc_id",
			"match": map[string]any{"any": filter.DocumentIDs},
		})
	}
	if filter.Subject != "" {
		must = append(must, map[string]any{
			"key":   "subject",
			"match": map[string]any{"value": filter.Subject},
		})
	}
	return must
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// queryPoints posts to the universal /points/query endpoint and decodes the
// scored points. Shared by dense and sparse search.
func queryPoints(
	ctx context.Context,
	client *http.Client,
	baseURL, collection string,
	reqBody map[string]any,
) ([]scoredPoint, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal query body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/query", baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("qdrant query status: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var queryResp struct {
		Result struct {
			Points []scoredPoint `json:"points"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return queryResp.Result.Points, nil
}

func chunksFromPoints(points []scoredPoint) []domain.RetrievedChunk {
	out := make([]domain.RetrievedChunk, 0, len(points))
	for _, p := range points {
		out = append(out, chunkFromPoint(p))
	}
	return out
}

func chunkFromPoint(p scoredPoint) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		ChunkID:    fmt.Sprintf("%v", p.ID),
		DocumentID: getStringPayload(p.Payload, "doc_id"),
		Filename:   getStringPayload(p.Payload, "filename"),
		Content:    getStringPayload(p.Payload, "text"),
		Similarity: p.Score,
		ChunkIndex: getIntPayload(p.Payload, "chunk_index"),
	}
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}
