package docstore

import (
	"context"
	"testing"
)

// openTestStore opens an in-memory Store for use in tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Docstore_CoreContextOrderedAndJoined(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// Inserted out of key order; output must be key-ordered.
	if err := s.UpsertSummary(ctx, "b-ratings", "ratings summary", true); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertSummary(ctx, "a-teams", "teams summary", true); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertSummary(ctx, "c-retired", "old summary", false); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.CoreContext(ctx)
	if err != nil {
		t.Fatalf("core context: %v", err)
	}
	want := "teams summary\n\nratings summary"
	if got != want {
		t.Errorf("want %q, got %q", want, got)
	}
}

func Test_Docstore_CoreContextEmptyTable(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	got, err := s.CoreContext(context.Background())
	if err != nil {
		t.Fatalf("core context: %v", err)
	}
	if got != "" {
		t.Errorf("want empty core context, got %q", got)
	}
}

func Test_Docstore_TreeIDs_GlobalThenTenant(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutGlobalDocument(ctx, "doc-g", "handbook", "tree-global"); err != nil {
		t.Fatalf("put global: %v", err)
	}
	if err := s.PutTenantDocument(ctx, "doc-t", "org-1", "policy", "tree-tenant"); err != nil {
		t.Fatalf("put tenant: %v", err)
	}
	if err := s.PutGlobalDocument(ctx, "doc-untreed", "draft", ""); err != nil {
		t.Fatalf("put untreed: %v", err)
	}

	got, err := s.TreeIDs(ctx, []string{"doc-g", "doc-t", "doc-untreed", "doc-missing"})
	if err != nil {
		t.Fatalf("tree ids: %v", err)
	}
	if len(got) != 2 || got[0] != "tree-global" || got[1] != "tree-tenant" {
		t.Errorf("want [tree-global tree-tenant], got %v", got)
	}
}

func Test_Docstore_TreeIDs_Deduplicated(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutGlobalDocument(ctx, "doc-a", "", "tree-1"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.PutGlobalDocument(ctx, "doc-b", "", "tree-1"); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.TreeIDs(ctx, []string{"doc-a", "doc-b"})
	if err != nil {
		t.Fatalf("tree ids: %v", err)
	}
	if len(got) != 1 || got[0] != "tree-1" {
		t.Errorf("want [tree-1], got %v", got)
	}
}

func Test_Docstore_ChunksFor_TenantScoping(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	org1 := "org-1"
	chunks := []StoredChunk{
		{ID: "c-shared", Shared: true, SourceType: "document", Content: "shared", Embedding: []float32{1, 0}},
		{ID: "c-core", SourceType: "core_context", Content: "core", Embedding: []float32{0, 1}},
		{ID: "c-org1", TenantID: &org1, SourceType: "document", Content: "tenant", Embedding: []float32{1, 1}},
	}
	for _, c := range chunks {
		if err := s.UpsertChunk(ctx, c); err != nil {
			t.Fatalf("upsert %s: %v", c.ID, err)
		}
	}

	withTenant, err := s.ChunksFor(ctx, &org1)
	if err != nil {
		t.Fatalf("chunks for org-1: %v", err)
	}
	if len(withTenant) != 3 {
		t.Errorf("want 3 chunks for org-1, got %d", len(withTenant))
	}

	global, err := s.ChunksFor(ctx, nil)
	if err != nil {
		t.Fatalf("chunks for nil tenant: %v", err)
	}
	if len(global) != 2 {
		t.Errorf("want 2 chunks without tenant, got %d", len(global))
	}
	for _, c := range global {
		if c.ID == "c-org1" {
			t.Error("tenant-owned chunk leaked into nil-tenant query")
		}
	}
}

func Test_Docstore_ChunkEmbeddingRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	vec := []float32{0.5, -1.25, 3}
	if err := s.UpsertChunk(ctx, StoredChunk{ID: "c-1", Shared: true, Content: "x", Embedding: vec}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.ChunksFor(ctx, nil)
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 chunk, got %d", len(got))
	}
	for i, f := range vec {
		if got[0].Embedding[i] != f {
			t.Errorf("embedding[%d]: want %v, got %v", i, f, got[0].Embedding[i])
		}
	}
}
