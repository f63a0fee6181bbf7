// Package server implements the HTTP server that exposes the assistant via
// a REST/SSE API: streaming chat, cache invalidation, readiness probes, and
// Prometheus metrics. The server is started by the `lsai serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zermattservices/levelset-ai/internal/invoker"
	"github.com/zermattservices/levelset-ai/internal/logging"
	"github.com/zermattservices/levelset-ai/internal/retriever"
)

// systemPrompt frames every chat completion. Retrieved context is appended
// to it as labelled sections.
const systemPrompt = `You are the workforce assistant for a scheduling and team management platform.
Answer questions about teams, schedules, ratings, and company policy using the
provided context. When the context does not contain the answer, say so rather
than guessing.`

// New constructs a Server from the provided dependencies and config.
func New(contexts ContextProvider, model ChatModel, store ContextCache, cfg *Config) (*Server, error) {
	if contexts == nil {
		return nil, fmt.Errorf("server: context provider must not be nil")
	}
	if model == nil {
		return nil, fmt.Errorf("server: chat model must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("server: context cache must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		contexts: contexts,
		model:    model,
		cache:    store,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.Registry, store),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: LSAI_API_KEY not set — API authentication is disabled")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	protected := func(h http.Handler) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/assistant/chat", protected(http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /api/cache/invalidate", protected(http.HandlerFunc(s.handleCacheInvalidate)))
	mux.Handle("GET /api/cache/stats", protected(http.HandlerFunc(s.handleCacheStats)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.requestLogger(mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/assistant/chat. It retrieves tenant context,
// opens a streaming completion, and relays tokens to the client using
// Server-Sent Events.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	outcome := "ok"
	defer func() {
		s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	rc := s.contexts.Retrieve(r.Context(), req.Message, req.TenantID)

	stream, escalated, err := s.model.StreamWithEscalation(r.Context(), "chat", buildMessages(rc, req.Message), s.cfg.MaxTokens)
	if err != nil {
		outcome = "error"
		log.Error("chat: model unavailable", slog.Any("error", err))
		http.Error(w, "model unavailable", http.StatusBadGateway)
		return
	}
	defer stream.Close()

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		outcome = "error"
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// The first frame tells the client what grounding the answer carries.
	meta, _ := json.Marshal(contextMeta{
		TotalTokens:  rc.TotalTokens,
		Chunks:       len(rc.SemanticChunks),
		DeepDocument: rc.DocumentContext != "",
	})
	fmt.Fprintf(w, "event: context\ndata: %s\n\n", meta)

	if escalated {
		s.metrics.chatEscalationsTotal.Inc()
		fmt.Fprintf(w, "event: escalated\ndata: true\n\n")
	}
	flusher.Flush()

	// sseWriter wraps the ResponseWriter to emit SSE-formatted data events.
	sw := &sseWriter{w: w, flusher: flusher}

	for {
		token, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			outcome = "error"
			log.Error("chat: stream failed", slog.Any("error", err))
			fmt.Fprintf(w, "event: error\ndata: stream interrupted\n\n")
			flusher.Flush()
			return
		}
		if _, err := sw.Write([]byte(token)); err != nil {
			// Client went away; nothing left to deliver.
			outcome = "error"
			return
		}
	}

	// Signal stream completion.
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

// buildMessages assembles the chat transcript: system prompt plus retrieved
// context sections, then the user's question. Empty sections are omitted.
func buildMessages(rc *retriever.RetrievedContext, question string) []invoker.Message {
	var b strings.Builder
	b.WriteString(systemPrompt)

	if rc.CoreContext != "" {
		b.WriteString("\n\n## Organization context\n")
		b.WriteString(rc.CoreContext)
	}
	if len(rc.SemanticChunks) > 0 {
		b.WriteString("\n\n## Relevant knowledge\n")
		b.WriteString(strings.Join(rc.SemanticChunks, "\n\n"))
	}
	if rc.DocumentContext != "" {
		b.WriteString("\n\n## Document analysis\n")
		b.WriteString(rc.DocumentContext)
	}

	return []invoker.Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: question},
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p is prefixed with "data: " so multi-line chunks never
// break the SSE frame boundary.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	chunk := strings.TrimRight(string(bytes.Clone(p)), "\n")
	lines := strings.Split(chunk, "\n")
	var buf strings.Builder
	for _, line := range lines {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = fmt.Fprint(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
