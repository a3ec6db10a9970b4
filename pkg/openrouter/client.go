// Package openrouter is a minimal chat-completions client for the OpenRouter
// API. It exposes exactly what the guidance engine needs: one blocking
// Complete call with rate limiting, tracing, and a typed rate-limit error
// callers can branch on.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the upstream responds 429. Callers degrade
// gracefully instead of retrying into the limit.
var ErrRateLimited = errors.New("openrouter: rate limited")

// ErrBadStatus wraps every other non-2xx response. It lets callers tell a
// request the service rejected apart from a transport failure.
var ErrBadStatus = errors.New("openrouter: bad status")

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Options configures the client.
type Options struct {
	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string
	// Model is the model slug, e.g. "meta-llama/llama-3.3-70b-instruct".
	Model string
	// RequestsPerMinute caps outbound request rate client-side. Zero
	// disables the limiter.
	RequestsPerMinute int
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		BaseURL:           defaultBaseURL,
		Model:             "meta-llama/llama-3.3-70b-instruct",
		RequestsPerMinute: 20,
		Timeout:           60 * time.Second,
	}
}

// Client calls the OpenRouter chat-completions endpoint.
type Client struct {
	apiKey  string
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient builds a client. The API key is required; everything else has
// defaults.
func NewClient(apiKey string, opts Options, logger *slog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openrouter: api key required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultOptions().Model
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), opts.RequestsPerMinute)
	}

	return &Client{
		apiKey: apiKey,
		opts:   opts,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Model returns the configured model slug.
func (c *Client) Model() string { return c.opts.Model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a system+user prompt pair and returns the first choice's
// content. A 429 maps to ErrRateLimited; other non-2xx statuses wrap
// ErrBadStatus with the status code and a body excerpt.
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int, temperature float32) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("openrouter: limiter: %w", err)
		}
	}

	msgs := make([]message, 0, 2)
	if system != "" {
		msgs = append(msgs, message{Role: "system", Content: system})
	}
	msgs = append(msgs, message{Role: "user", Content: user})

	body, err := json.Marshal(chatRequest{
		Model:       c.opts.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openrouter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		c.logger.Warn("openrouter rate limited", "model", c.opts.Model)
		return "", ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w %d: %s", ErrBadStatus, resp.StatusCode, excerpt)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openrouter: empty choices in response")
	}

	c.logger.Debug("openrouter completion",
		"model", c.opts.Model,
		"duration_ms", time.Since(start).Milliseconds())
	return out.Choices[0].Message.Content, nil
}
