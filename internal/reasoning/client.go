// Package reasoning is the client for the deep-document reasoning service.
// The service exposes an availability probe and a single query endpoint
// that answers a question against a set of pre-built document trees.
// It talks plain HTTP — no SDK dependency is required.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/zermattservices/levelset-ai/internal/apierr"
)

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the reasoning service base URL. Empty disables the client:
	// Available always reports false.
	BaseURL string
}

// Client calls the reasoning service. It is safe for concurrent use.
type Client struct {
	// baseURL is the service base URL.
	baseURL string
	// client is the shared HTTP client. Deep-document queries are slow, so
	// the timeout is generous.
	client *http.Client
}

// NewClient constructs a Client from the given config.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: 90 * time.Second},
	}
}

// Available reports whether the service is reachable and ready. Any
// transport or non-2xx failure reads as unavailable; this probe never errors.
func (c *Client) Available(ctx context.Context) bool {
	if c.baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// queryRequest is the JSON body sent to the query endpoint.
type queryRequest struct {
	TreeIDs  []string `json:"tree_ids"`
	Question string   `json:"question"`
}

// queryResponse is the JSON body returned from the query endpoint.
type queryResponse struct {
	Answer string `json:"answer"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Query answers question against the given document trees in one combined
// call and returns the answer text.
func (c *Client) Query(ctx context.Context, treeIDs []string, question string) (string, error) {
	payload, err := json.Marshal(queryRequest{TreeIDs: treeIDs, Question: question})
	if err != nil {
		return "", fmt.Errorf("reasoning: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("reasoning: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reasoning: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result queryResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if decodeErr == nil && result.Error != nil {
			msg = result.Error.Message
		}
		return "", &apierr.UpstreamError{Service: "reasoning", Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", &apierr.UpstreamError{Service: "reasoning", Status: resp.StatusCode, Message: "undecodable response body"}
	}
	return result.Answer, nil
}
