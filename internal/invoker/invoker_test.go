package invoker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/zermattservices/levelset-ai/internal/apierr"
)

// chatServer returns a Client pointed at an httptest server running handler.
func chatServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&Config{Endpoint: srv.URL, APIKey: "test-key"})
}

// completion writes a minimal successful chat completion.
func completion(t *testing.T, w http.ResponseWriter, model, content string) {
	t.Helper()
	resp := map[string]any{
		"model": model,
		"choices": []map[string]any{{
			"message":       map[string]any{"content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 34},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Fatalf("encode completion: %v", err)
	}
}

func Test_Call_ReturnsResponse(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("want /chat/completions, got %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Temperature != DefaultTemperature {
			t.Errorf("want default temperature %v, got %v", DefaultTemperature, req.Temperature)
		}
		completion(t, w, "gpt-4o-mini", "hello there")
	})

	resp, err := c.Call(t.Context(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, nil, 256, 0)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("content: got %q", resp.Content)
	}
	if resp.ToolCalls != nil {
		t.Error("tool calls must be nil when the model requested none")
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 34 {
		t.Errorf("usage: got %+v", resp.Usage)
	}
	if resp.Model != "gpt-4o-mini" || resp.FinishReason != "stop" {
		t.Errorf("model/finish: got %q/%q", resp.Model, resp.FinishReason)
	}
	if resp.Escalated {
		t.Error("escalated must be false on a direct call")
	}
	if resp.LatencyMs < 0 {
		t.Errorf("latency: got %d", resp.LatencyMs)
	}
}

func Test_Call_SurfacesToolCalls(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"model": "gpt-4o-mini",
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": "",
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "lookup_employee",
							"arguments": `{"id":"emp-7"}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	resp, err := c.Call(t.Context(), "gpt-4o-mini", []Message{{Role: "user", Content: "who is emp-7?"}}, nil, 256, 0)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "lookup_employee" {
		t.Errorf("tool calls: got %+v", resp.ToolCalls)
	}
	if resp.Content != "" {
		t.Errorf("want empty content on tool-call response, got %q", resp.Content)
	}
}

func Test_Call_MissingKeyIsConfigError(t *testing.T) {
	t.Parallel()
	c := NewClient(&Config{Endpoint: "http://127.0.0.1:1"})

	_, err := c.Call(t.Context(), "m", nil, nil, 0, 0)
	var cfgErr *apierr.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want ConfigError, got %v", err)
	}
}

func Test_Call_Non2xxIsUpstreamError(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "rate limited"}})
	})

	_, err := c.Call(t.Context(), "m", nil, nil, 0, 0)
	var upErr *apierr.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
	if upErr.Status != http.StatusTooManyRequests || upErr.Message != "rate limited" {
		t.Errorf("got %+v", upErr)
	}
}

func Test_Call_EmptyChoicesIsUpstreamError(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"model": "m", "choices": []any{}})
	})

	_, err := c.Call(t.Context(), "m", nil, nil, 0, 0)
	var upErr *apierr.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("want UpstreamError for empty choices, got %v", err)
	}
}

func Test_CallWithEscalation_BackupSucceeds(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "primary-x" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		completion(t, w, req.Model, "backup answer")
	})
	c.ladder["chat"] = ModelPair{Primary: "primary-x", Backup: "backup-x"}

	resp, err := c.CallWithEscalation(t.Context(), "chat", []Message{{Role: "user", Content: "q"}}, nil, 256)
	if err != nil {
		t.Fatalf("escalation: %v", err)
	}
	if !resp.Escalated {
		t.Error("want escalated response")
	}
	if resp.Model != "backup-x" {
		t.Errorf("want backup-x, got %q", resp.Model)
	}
	if resp.Content != "backup answer" {
		t.Errorf("content: got %q", resp.Content)
	}
}

func Test_CallWithEscalation_PrimarySucceedsWithoutEscalation(t *testing.T) {
	t.Parallel()
	calls := 0
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		completion(t, w, req.Model, "primary answer")
	})

	resp, err := c.CallWithEscalation(t.Context(), "chat", nil, nil, 0)
	if err != nil {
		t.Fatalf("escalation: %v", err)
	}
	if resp.Escalated {
		t.Error("primary success must not be marked escalated")
	}
	if calls != 1 {
		t.Errorf("want 1 upstream call, got %d", calls)
	}
}

func Test_CallWithEscalation_BackupFailurePropagates(t *testing.T) {
	t.Parallel()
	calls := 0
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CallWithEscalation(t.Context(), "chat", nil, nil, 0)
	var upErr *apierr.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("want UpstreamError from backup, got %v", err)
	}
	// Exactly two rungs: primary, then backup. Never a third attempt.
	if calls != 2 {
		t.Errorf("want 2 upstream calls, got %d", calls)
	}
}

func Test_Models_UnknownTaskFallsBackToChat(t *testing.T) {
	t.Parallel()
	c := NewClient(&Config{APIKey: "k", Ladder: map[string]ModelPair{
		"chat": {Primary: "p", Backup: "b"},
	}})

	pair := c.Models("made-up-task")
	if pair.Primary != "p" || pair.Backup != "b" {
		t.Errorf("want chat pair for unknown task, got %+v", pair)
	}
}

func Test_NewClient_LadderMergesOverDefaults(t *testing.T) {
	t.Parallel()
	c := NewClient(&Config{APIKey: "k", Ladder: map[string]ModelPair{
		"analysis": {Primary: "custom-model"},
	}})

	pair := c.Models("analysis")
	if pair.Primary != "custom-model" {
		t.Errorf("primary override lost: %+v", pair)
	}
	if pair.Backup == "" {
		t.Error("default backup should survive a partial override")
	}
}

func Test_StreamCall_DeliversDeltasAndSkipsGarbage(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`: keep-alive comment`,
			`data: this is not json`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[{"delta":{}}]}`,
			`data: [DONE]`,
			`data: {"choices":[{"delta":{"content":"never delivered"}}]}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "%s\n\n", f)
		}
	})

	st, err := c.StreamCall(t.Context(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, 64, 0)
	if err != nil {
		t.Fatalf("stream call: %v", err)
	}
	defer st.Close()

	var sb strings.Builder
	for {
		delta, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		sb.WriteString(delta)
	}
	if sb.String() != "Hello" {
		t.Errorf("want \"Hello\", got %q", sb.String())
	}

	// After termination Recv keeps returning EOF.
	if _, err := st.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("want EOF after done, got %v", err)
	}
}

func Test_StreamCall_TerminatesOnBodyCloseWithoutSentinel(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		// No [DONE]; the body just ends.
	})

	st, err := c.StreamCall(t.Context(), "m", nil, 0, 0)
	if err != nil {
		t.Fatalf("stream call: %v", err)
	}
	defer st.Close()

	if delta, err := st.Recv(); err != nil || delta != "partial" {
		t.Fatalf("first recv: %q, %v", delta, err)
	}
	if _, err := st.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("want EOF on closed body, got %v", err)
	}
}

func Test_StreamCall_Non2xxIsUpstreamError(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.StreamCall(t.Context(), "m", nil, 0, 0)
	var upErr *apierr.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
}

func Test_StreamWithEscalation_FallsBackOnce(t *testing.T) {
	t.Parallel()
	c := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model == "primary-x" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	})
	c.ladder["chat"] = ModelPair{Primary: "primary-x", Backup: "backup-x"}

	st, escalated, err := c.StreamWithEscalation(t.Context(), "chat", nil, 0)
	if err != nil {
		t.Fatalf("stream escalation: %v", err)
	}
	defer st.Close()
	if !escalated {
		t.Error("want escalated stream")
	}
	if delta, err := st.Recv(); err != nil || delta != "ok" {
		t.Errorf("recv: %q, %v", delta, err)
	}
}
