package invoker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zermattservices/levelset-ai/internal/apierr"
	"github.com/zermattservices/levelset-ai/internal/logging"
)

// streamChunk is one decoded SSE delta frame from the completions stream.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Stream is a finite sequence of content deltas from one streaming call.
// It is not safe for concurrent use and cannot be restarted; callers must
// Close it when done.
type Stream struct {
	// body is the open response body the deltas are read from.
	body io.ReadCloser
	// scanner splits the body into SSE lines.
	scanner *bufio.Scanner
	// done is set once the stream has terminated.
	done bool
}

// StreamCall opens a streaming chat completion against model. The stream
// lives until the [DONE] sentinel, the connection closing, or ctx being
// cancelled — the shared HTTP client deliberately carries no timeout.
func (c *Client) StreamCall(ctx context.Context, model string, messages []Message, maxTokens int, temperature float32) (*Stream, error) {
	if c.apiKey == "" {
		return nil, &apierr.ConfigError{Setting: "MODEL_API_KEY"}
	}
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("invoker: marshal stream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("invoker: create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoker: stream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var result chatResponse
		msg := ""
		if json.NewDecoder(resp.Body).Decode(&result) == nil && result.Error != nil {
			msg = result.Error.Message
		}
		return nil, &apierr.UpstreamError{Service: "model", Status: resp.StatusCode, Message: msg}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{body: resp.Body, scanner: scanner}, nil
}

// Recv returns the next non-empty content delta. Lines that are not data
// frames or fail to decode are skipped; the [DONE] sentinel or the
// connection closing terminates the stream with [io.EOF].
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed frame — skip it rather than abort the stream.
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("invoker: stream read: %w", err)
	}
	return "", io.EOF
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

// StreamWithEscalation opens a stream on the task type's primary model,
// falling back exactly once to the backup when the stream cannot be opened.
// The second return value reports whether the backup stream is in use.
func (c *Client) StreamWithEscalation(ctx context.Context, taskType string, messages []Message, maxTokens int) (*Stream, bool, error) {
	pair := c.Models(taskType)

	st, err := c.StreamCall(ctx, pair.Primary, messages, maxTokens, 0)
	if err == nil {
		return st, false, nil
	}

	logging.FromContext(ctx).Warn("invoker: primary stream failed, escalating",
		slog.String("task_type", taskType),
		slog.String("primary", pair.Primary),
		slog.String("backup", pair.Backup),
		slog.Any("error", err),
	)

	st, err = c.StreamCall(ctx, pair.Backup, messages, maxTokens, 0)
	if err != nil {
		return nil, false, err
	}
	return st, true, nil
}
