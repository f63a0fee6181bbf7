package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/zermattservices/levelset-ai/internal/cache"
	"github.com/zermattservices/levelset-ai/internal/logging"
)

// handleCacheInvalidate handles POST /api/cache/invalidate. Callers in the
// main application hit this endpoint after writes so stale tenant context is
// dropped before its TTL would expire.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	if req.Scope == "" && req.Key == "" {
		http.Error(w, "scope or key is required", http.StatusBadRequest)
		return
	}
	if req.Scope != "" && req.Key != "" {
		http.Error(w, "scope and key are mutually exclusive", http.StatusBadRequest)
		return
	}

	var removed int
	switch {
	case req.Key != "":
		removed = s.cache.Invalidate(req.TenantID, req.Key)
	default:
		if !cache.ValidScope(req.Scope) {
			http.Error(w, "unknown scope", http.StatusBadRequest)
			return
		}
		removed = s.cache.InvalidateScope(req.TenantID, req.Scope)
	}

	log.Info("cache: invalidated",
		slog.String("tenant_id", req.TenantID),
		slog.String("scope", req.Scope),
		slog.String("key", req.Key),
		slog.Int("removed", removed),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(invalidateResponse{Removed: removed})
}

// handleCacheStats handles GET /api/cache/stats, exposing the cache counters
// as JSON for the `lsai stats` command and ad-hoc inspection.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.cache.Stats())
}
