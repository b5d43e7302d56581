package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/learnloop/tutor-core/internal/infrastructure/resilience"
)

// Client is the shared transport for one ollama instance. Generator and
// Embedder wrap it with the port-facing methods.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

// WithExecutor routes every ollama call through the retry/breaker executor.
func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(baseURL, genModel, embedModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generator implements text generation over /api/generate.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
	}
	if systemPrompt != "" {
		reqBody["system"] = systemPrompt
	}
	return g.client.generate(ctx, reqBody)
}

// GenerateJSON constrains decoding to valid JSON. The raw response is
// returned untouched; callers own the parsing.
func (g *Generator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}
	return g.client.generate(ctx, reqBody)
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.call(ctx, "generate", "/api/generate", reqBody, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	request := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.call(ctx, "embed", "/api/embed", request, &response); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

// call runs one request, through the executor when configured, and wraps
// retryable failures as temporary for the error taxonomy upstream.
func (c *Client) call(ctx context.Context, operation, path string, payload, out any) error {
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama_"+operation, func(ctx context.Context) error {
			return c.postJSON(ctx, path, payload, out, operation)
		}, classifyOllamaError)
	} else {
		err = c.postJSON(ctx, path, payload, out, operation)
	}
	return wrapTemporaryIfNeeded(operation, err)
}
