// Package invoker is the chat-completion client for the assistant. It
// speaks the OpenAI-compatible wire format over plain HTTP — no SDK
// dependency is required — and supports synchronous calls, SSE streaming,
// and a one-shot escalation from a task type's primary model to its backup.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zermattservices/levelset-ai/internal/apierr"
	"github.com/zermattservices/levelset-ai/internal/logging"
)

const (
	// DefaultTemperature is used when the caller does not specify one.
	DefaultTemperature = 0.3

	// defaultEndpoint is the API base used when none is configured.
	defaultEndpoint = "https://api.openai.com/v1"

	// callTimeout bounds a synchronous completion call. Streaming calls are
	// governed by the caller's context instead.
	callTimeout = 2 * time.Minute
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the schema of a callable function.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the requested function name and its raw JSON
// arguments. Arguments are passed through undecoded; executing tools is the
// caller's concern.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage is the token accounting reported by the API for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the result of a completed synchronous call.
type Response struct {
	// Content is the assistant text. Empty when the model only requested tools.
	Content string
	// ToolCalls is nil unless the model requested at least one tool.
	ToolCalls []ToolCall
	// Usage is the reported token accounting.
	Usage Usage
	// Model is the model that actually produced the response.
	Model string
	// FinishReason is the API's termination reason ("stop", "tool_calls", ...).
	FinishReason string
	// Escalated is true when the response came from the backup model.
	Escalated bool
	// LatencyMs is the wall-clock duration of the HTTP exchange.
	LatencyMs int64
}

// ModelPair is a task type's primary model and its backup.
type ModelPair struct {
	Primary string `yaml:"primary"`
	Backup  string `yaml:"backup"`
}

// defaultLadder maps task types to model pairs when config provides none.
// Unknown task types resolve to the chat pair.
var defaultLadder = map[string]ModelPair{
	"chat":     {Primary: "gpt-4o-mini", Backup: "gpt-4o"},
	"analysis": {Primary: "gpt-4o", Backup: "gpt-4.1"},
	"document": {Primary: "gpt-4o-mini", Backup: "gpt-4o"},
}

// Config holds the settings for constructing a Client.
type Config struct {
	// Endpoint is the chat-completions API base URL.
	Endpoint string
	// APIKey is the Bearer token.
	APIKey string
	// Ladder overrides the per-task model pairs. Entries with an empty
	// primary or backup fall back to the built-in pair for that task.
	Ladder map[string]ModelPair
}

// Client calls the chat-completions API. It is safe for concurrent use.
type Client struct {
	// endpoint is the API base URL.
	endpoint string
	// apiKey is the Bearer token.
	apiKey string
	// ladder maps task types to their model pairs.
	ladder map[string]ModelPair
	// client is the shared HTTP client. It carries no timeout of its own so
	// SSE streams can outlive a fixed deadline; contexts bound each call.
	client *http.Client
}

// NewClient constructs a Client from the given config, merging the config
// ladder over the built-in defaults.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	ladder := make(map[string]ModelPair, len(defaultLadder))
	for task, pair := range defaultLadder {
		ladder[task] = pair
	}
	for task, pair := range cfg.Ladder {
		base := ladder[task]
		if pair.Primary != "" {
			base.Primary = pair.Primary
		}
		if pair.Backup != "" {
			base.Backup = pair.Backup
		}
		ladder[task] = base
	}

	return &Client{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		ladder:   ladder,
		client:   &http.Client{},
	}
}

// Models returns the model pair for taskType, falling back to the chat
// pair for unknown task types so a new call site cannot break invocation.
func (c *Client) Models(taskType string) ModelPair {
	if pair, ok := c.ladder[taskType]; ok {
		return pair
	}
	return c.ladder["chat"]
}

// chatRequest is the JSON body sent to the chat-completions endpoint.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

// chatResponse is the JSON body returned from a synchronous call.
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Call runs one synchronous chat completion against model. A temperature
// of zero or below selects DefaultTemperature.
//
// Error taxonomy: a missing API key is an [apierr.ConfigError]; a non-2xx
// status, undecodable body, or empty choice list is an [apierr.UpstreamError].
func (c *Client) Call(ctx context.Context, model string, messages []Message, tools []Tool, maxTokens int, temperature float32) (*Response, error) {
	if c.apiKey == "" {
		return nil, &apierr.ConfigError{Setting: "MODEL_API_KEY"}
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("invoker: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("invoker: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoker: request failed: %w", err)
	}
	defer resp.Body.Close()

	var result chatResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	latency := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := ""
		if decodeErr == nil && result.Error != nil {
			msg = result.Error.Message
		}
		return nil, &apierr.UpstreamError{Service: "model", Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &apierr.UpstreamError{Service: "model", Status: resp.StatusCode, Message: "undecodable response body"}
	}
	if len(result.Choices) == 0 {
		return nil, &apierr.UpstreamError{Service: "model", Status: resp.StatusCode, Message: "response contained no choices"}
	}

	choice := result.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		Usage:        Usage{InputTokens: result.Usage.PromptTokens, OutputTokens: result.Usage.CompletionTokens},
		Model:        result.Model,
		FinishReason: choice.FinishReason,
		LatencyMs:    latency,
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.ToolCalls = choice.Message.ToolCalls
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

// CallWithEscalation calls the task type's primary model and, on any
// failure, retries exactly once against the backup. A backup success is
// marked Escalated; a backup failure propagates. There is never a third
// attempt.
func (c *Client) CallWithEscalation(ctx context.Context, taskType string, messages []Message, tools []Tool, maxTokens int) (*Response, error) {
	pair := c.Models(taskType)

	resp, err := c.Call(ctx, pair.Primary, messages, tools, maxTokens, 0)
	if err == nil {
		return resp, nil
	}

	logging.FromContext(ctx).Warn("invoker: primary model failed, escalating",
		slog.String("task_type", taskType),
		slog.String("primary", pair.Primary),
		slog.String("backup", pair.Backup),
		slog.Any("error", err),
	)

	resp, err = c.Call(ctx, pair.Backup, messages, tools, maxTokens, 0)
	if err != nil {
		return nil, err
	}
	resp.Escalated = true
	return resp, nil
}
