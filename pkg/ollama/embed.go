// Package ollama provides an Ollama-backed embeddings encoder over the
// Ollama HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/AdvisorAI/advisor-engine/pkg/fn"
)

// batchWorkers bounds concurrent embedding requests per batch; Ollama
// serialises model access, so more buys nothing.
const batchWorkers = 4

// Client encodes text via Ollama's /api/embeddings endpoint. It implements
// embed.Encoder.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
	retry   fn.RetryOpts
}

// NewClient creates an embeddings client for the given Ollama base URL and
// model name.
func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{},
		retry:   fn.DefaultRetry,
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// EncodeBatch embeds every text, preserving order. Transient failures are
// retried with backoff; a persistent failure fails the whole batch.
func (c *Client) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := fn.ParMapResult(texts, batchWorkers, func(text string) fn.Result[[]float32] {
		return fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]float32] {
			return fn.FromPair(c.encode(ctx, text))
		})
	})
	vecs, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, fmt.Errorf("ollama: encode batch of %d: %w", len(texts), err)
	}
	return vecs, nil
}

func (c *Client) encode(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama: embed: status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama: embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
