package search

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/zermattservices/levelset-ai/internal/docstore"
)

// fakeStrategy is a canned Strategy for ladder tests.
type fakeStrategy struct {
	name   string
	chunks []Chunk
	err    error
	calls  int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) SimilarChunks(context.Context, []float32, *string, int, float32) ([]Chunk, error) {
	f.calls++
	return f.chunks, f.err
}

func Test_Ladder_FirstStrategyWins(t *testing.T) {
	t.Parallel()

	primary := &fakeStrategy{name: "primary", chunks: []Chunk{{ID: "a"}}}
	fallback := &fakeStrategy{name: "fallback", chunks: []Chunk{{ID: "b"}}}
	l := NewLadder(primary, fallback)

	chunks, err := l.SimilarChunks(context.Background(), []float32{1}, nil, 5, 0.5)
	if err != nil {
		t.Fatalf("ladder: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "a" {
		t.Errorf("want primary result, got %v", chunks)
	}
	if fallback.calls != 0 {
		t.Error("fallback was called although primary succeeded")
	}
}

func Test_Ladder_FallsThroughOnFailure(t *testing.T) {
	t.Parallel()

	primary := &fakeStrategy{name: "primary", err: errors.New("connection refused")}
	fallback := &fakeStrategy{name: "fallback", chunks: []Chunk{{ID: "b"}}}
	l := NewLadder(primary, fallback)

	chunks, err := l.SimilarChunks(context.Background(), []float32{1}, nil, 5, 0.5)
	if err != nil {
		t.Fatalf("ladder: %v", err)
	}
	if len(chunks) != 1 || chunks[0].ID != "b" {
		t.Errorf("want fallback result, got %v", chunks)
	}
}

func Test_Ladder_AllFailuresYieldEmptyNotError(t *testing.T) {
	t.Parallel()

	l := NewLadder(
		&fakeStrategy{name: "a", err: errors.New("down")},
		&fakeStrategy{name: "b", err: errors.New("also down")},
	)

	chunks, err := l.SimilarChunks(context.Background(), []float32{1}, nil, 5, 0.5)
	if err != nil {
		t.Fatalf("ladder must not propagate strategy errors, got %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("want empty result, got %v", chunks)
	}
}

// fakeChunkSource is a canned chunkSource for StoreScan tests.
type fakeChunkSource struct {
	chunks []docstore.StoredChunk
	err    error
}

func (f *fakeChunkSource) ChunksFor(context.Context, *string) ([]docstore.StoredChunk, error) {
	return f.chunks, f.err
}

func Test_StoreScan_FiltersSortsAndCaps(t *testing.T) {
	t.Parallel()

	src := &fakeChunkSource{chunks: []docstore.StoredChunk{
		{ID: "far", Content: "far", Embedding: []float32{0, 1}},
		{ID: "close", Content: "close", Embedding: []float32{1, 0.1}},
		{ID: "exact", Content: "exact", Embedding: []float32{1, 0}},
		{ID: "near", Content: "near", Embedding: []float32{1, 0.3}},
	}}
	scan := NewStoreScan(src)

	chunks, err := scan.SimilarChunks(context.Background(), []float32{1, 0}, nil, 2, 0.6)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("want 2 chunks (cap), got %d", len(chunks))
	}
	if chunks[0].ID != "exact" || chunks[1].ID != "close" {
		t.Errorf("want [exact close] by descending similarity, got [%s %s]", chunks[0].ID, chunks[1].ID)
	}
	for _, c := range chunks {
		if c.Similarity < 0.6 {
			t.Errorf("chunk %s below threshold: %v", c.ID, c.Similarity)
		}
	}
}

func Test_StoreScan_SourceErrorPropagates(t *testing.T) {
	t.Parallel()

	scan := NewStoreScan(&fakeChunkSource{err: errors.New("db locked")})
	if _, err := scan.SimilarChunks(context.Background(), []float32{1}, nil, 5, 0.5); err == nil {
		t.Fatal("want error from failing source")
	}
}

func Test_Cosine(t *testing.T) {
	t.Parallel()

	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(float64(got)-1) > 1e-6 {
		t.Errorf("identical vectors: want 1, got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("orthogonal vectors: want 0, got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 0}); got != 0 {
		t.Errorf("zero vector: want 0, got %v", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("length mismatch: want 0, got %v", got)
	}
}
