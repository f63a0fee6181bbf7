// Package embedding provides the client that converts text into dense
// vector embeddings via an OpenAI-compatible embeddings REST API. It talks
// plain HTTP — no SDK dependency is required.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zermattservices/levelset-ai/internal/apierr"
)

const (
	// Dimensions is the required embedding vector length. Vectors of any
	// other length are rejected before they can reach the vector index.
	Dimensions = 1536

	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "text-embedding-3-small"

	// defaultEndpoint is the API base used when none is configured.
	defaultEndpoint = "https://api.openai.com/v1"
)

// Config holds the settings for constructing a Client.
type Config struct {
	// Endpoint is the API base URL (e.g. "https://api.openai.com/v1").
	Endpoint string
	// APIKey is the Bearer token.
	APIKey string
	// Model is the embedding model name.
	Model string
}

// Client calls the embeddings API. It is safe for concurrent use.
type Client struct {
	// endpoint is the API base URL.
	endpoint string
	// apiKey is the Bearer token.
	apiKey string
	// model is the embedding model name.
	model string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// NewClient constructs a Client from the given config, applying defaults
// for the endpoint and model.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    model,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// embedRequest is the JSON body sent to the embeddings endpoint.
type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// embedResponse is the JSON body returned from the embeddings endpoint.
type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate converts text into its embedding vector.
//
// Error taxonomy: a missing API key is an [apierr.ConfigError]; a non-2xx
// status or undecodable body is an [apierr.UpstreamError]; a vector of the
// wrong length is an [apierr.ValidationError].
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	if c.apiKey == "" {
		return nil, &apierr.ConfigError{Setting: "EMBEDDING_API_KEY"}
	}

	payload, err := json.Marshal(embedRequest{
		Input:      []string{text},
		Model:      c.model,
		Dimensions: Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result embedResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if decodeErr == nil && result.Error != nil {
			msg = result.Error.Message
		}
		return nil, &apierr.UpstreamError{Service: "embedding", Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &apierr.UpstreamError{Service: "embedding", Status: resp.StatusCode, Message: "undecodable response body"}
	}
	if len(result.Data) == 0 {
		return nil, &apierr.UpstreamError{Service: "embedding", Status: resp.StatusCode, Message: "response contained no embeddings"}
	}

	vec := result.Data[0].Embedding
	if len(vec) != Dimensions {
		return nil, &apierr.ValidationError{
			Service: "embedding",
			Reason:  fmt.Sprintf("expected %d dimensions, got %d", Dimensions, len(vec)),
		}
	}
	return vec, nil
}

// Ping probes the API base for reachability without spending tokens.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/models", nil)
	if err != nil {
		return fmt.Errorf("embedding: create probe request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("embedding: probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}
