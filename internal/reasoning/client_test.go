package reasoning

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zermattservices/levelset-ai/internal/apierr"
)

func Test_Client_Available(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("want /health, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(&Config{BaseURL: srv.URL})
	if !c.Available(t.Context()) {
		t.Error("want available")
	}
}

func Test_Client_Available_FalseWhenUnconfigured(t *testing.T) {
	t.Parallel()
	c := NewClient(nil)
	if c.Available(t.Context()) {
		t.Error("unconfigured client must report unavailable")
	}
}

func Test_Client_Available_FalseOnServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(&Config{BaseURL: srv.URL})
	if c.Available(t.Context()) {
		t.Error("want unavailable on 503")
	}
}

func Test_Client_Query(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("want /query, got %s", r.URL.Path)
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.TreeIDs) != 2 || req.Question == "" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(queryResponse{Answer: "per the handbook, yes"})
	}))
	t.Cleanup(srv.Close)

	c := NewClient(&Config{BaseURL: srv.URL})
	answer, err := c.Query(t.Context(), []string{"tree-1", "tree-2"}, "is overtime pre-approved?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if answer != "per the handbook, yes" {
		t.Errorf("want answer, got %q", answer)
	}
}

func Test_Client_Query_Non2xxIsUpstreamError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(&Config{BaseURL: srv.URL})
	_, err := c.Query(t.Context(), []string{"tree-1"}, "q")
	var upErr *apierr.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("want UpstreamError, got %v", err)
	}
	if upErr.Status != http.StatusInternalServerError {
		t.Errorf("want status 500, got %d", upErr.Status)
	}
}
