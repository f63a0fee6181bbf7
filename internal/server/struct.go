package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zermattservices/levelset-ai/internal/cache"
	"github.com/zermattservices/levelset-ai/internal/invoker"
	"github.com/zermattservices/levelset-ai/internal/retriever"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8090).
	Port int
	// MaxTokens caps the model response length on chat requests.
	// Defaults to 2048 if zero.
	MaxTokens int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Registry receives the server's Prometheus metrics and backs GET /metrics.
	// If nil, a private registry is created.
	Registry *prometheus.Registry
}

// ContextProvider assembles the model context for one chat turn.
// *retriever.Retriever satisfies it; tests inject a fake.
type ContextProvider interface {
	// Retrieve returns the assembled context. It degrades instead of failing.
	Retrieve(ctx context.Context, query, tenantID string) *retriever.RetrievedContext
}

// TokenStream is a finite sequence of model output tokens. Recv returns
// [io.EOF] when the stream ends.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// ChatModel opens a streaming completion for a task type, escalating once
// to the backup model when the primary fails. The bool reports whether the
// backup stream is in use.
type ChatModel interface {
	StreamWithEscalation(ctx context.Context, taskType string, messages []invoker.Message, maxTokens int) (TokenStream, bool, error)
}

// Model adapts an invoker client to the ChatModel interface.
func Model(c *invoker.Client) ChatModel { return modelAdapter{c} }

// modelAdapter lifts the invoker's concrete *Stream into the TokenStream
// interface so handlers and tests share one seam.
type modelAdapter struct {
	c *invoker.Client
}

func (a modelAdapter) StreamWithEscalation(ctx context.Context, taskType string, messages []invoker.Message, maxTokens int) (TokenStream, bool, error) {
	st, escalated, err := a.c.StreamWithEscalation(ctx, taskType, messages, maxTokens)
	if err != nil {
		return nil, false, err
	}
	return st, escalated, nil
}

// ContextCache is the tenant cache surface exposed over HTTP.
// *cache.Cache[string] satisfies it.
type ContextCache interface {
	Invalidate(tenant string, keys ...string) int
	InvalidateScope(tenant, scope string) int
	Stats() cache.Stats
}

// Server is the HTTP server that exposes the assistant API.
type Server struct {
	// contexts assembles per-request model context.
	contexts ContextProvider
	// model opens streaming completions.
	model ChatModel
	// cache is the tenant context cache managed by the invalidation endpoints.
	cache ContextCache
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/assistant/chat.
type chatRequest struct {
	// Message is the user's natural language question.
	Message string `json:"message"`
	// TenantID identifies the organization the question is asked within.
	TenantID string `json:"tenant_id"`
}

// contextMeta is the payload of the "context" SSE event sent before the
// first token, so clients can show what grounding the answer carries.
type contextMeta struct {
	// TotalTokens is the estimated token footprint of the assembled context.
	TotalTokens int `json:"total_tokens"`
	// Chunks is the number of semantic chunks included.
	Chunks int `json:"chunks"`
	// DeepDocument is true when the deep-document tier contributed.
	DeepDocument bool `json:"deep_document"`
}

// invalidateRequest is the JSON body for POST /api/cache/invalidate.
// Exactly one of Scope or Key must be set.
type invalidateRequest struct {
	// TenantID is the tenant whose entries are invalidated.
	TenantID string `json:"tenant_id"`
	// Scope names a group of related keys ("team", "ratings", "infractions",
	// "org_config", "all").
	Scope string `json:"scope,omitempty"`
	// Key names one exact cache key.
	Key string `json:"key,omitempty"`
}

// invalidateResponse is the JSON response for POST /api/cache/invalidate.
type invalidateResponse struct {
	// Removed is the number of cache entries that were dropped.
	Removed int `json:"removed"`
}
