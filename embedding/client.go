// Package embedding provides the embedding capability client used for
// chunk similarity. The core treats embedding as a pure, possibly
// failing function over text.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/c360studio/docdelta/fault"
	"golang.org/x/time/rate"
)

// maxResponseSize limits the embedding response body.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Client turns a text chunk into a fixed-length vector.
type Client interface {
	// Embed computes the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds HTTP embedding client configuration.
type Config struct {
	// Endpoint is the embedding API endpoint (OpenAI-compatible
	// /v1/embeddings).
	Endpoint string

	// Model is the embedding model name.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// CallTimeout bounds a single embedding call.
	CallTimeout time.Duration

	// MaxAttempts is the number of attempts per call.
	MaxAttempts int

	// BackoffBase is the initial retry backoff.
	BackoffBase time.Duration

	// RequestsPerSecond throttles calls to respect provider rate limits.
	// Zero disables throttling.
	RequestsPerSecond float64
}

// DefaultConfig returns sensible embedding client defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:          "http://localhost:11434/v1/embeddings",
		Model:             "nomic-embed-text",
		CallTimeout:       30 * time.Second,
		MaxAttempts:       3,
		BackoffBase:       time.Second,
		RequestsPerSecond: 8,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	return nil
}

// HTTPClient is an embedding client over an OpenAI-compatible
// embeddings endpoint, with bounded retry and rate limiting. Retry
// policy lives here so the diff engine stays deterministic.
type HTTPClient struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewHTTPClient creates an HTTP embedding client.
func NewHTTPClient(cfg Config, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &HTTPClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		limiter:    limiter,
		logger:     logger,
	}, nil
}

// embedRequest is the wire request for /v1/embeddings.
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the wire response for /v1/embeddings.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed computes the embedding vector for the given text.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fault.NewCapabilityError("embedding", fmt.Errorf("empty text"))
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fault.NewCapabilityError("embedding", err)
			}
		}

		vector, err := c.doRequest(ctx, text)
		if err == nil {
			return vector, nil
		}
		lastErr = err

		if attempt < c.config.MaxAttempts {
			backoff := c.backoff(attempt)
			c.logger.Debug("Embedding request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.config.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, fault.NewCapabilityError("embedding", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return nil, fault.NewCapabilityError("embedding", lastErr)
}

// doRequest executes a single embedding HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.config.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		preview := string(respBody)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, preview)
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("response contains no embedding")
	}

	return parsed.Data[0].Embedding, nil
}

// backoff computes exponential backoff with jitter.
func (c *HTTPClient) backoff(attempt int) time.Duration {
	backoff := c.config.BackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}

	// +/- 25% jitter to avoid synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
