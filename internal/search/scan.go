package search

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/zermattservices/levelset-ai/internal/docstore"
)

// chunkSource is the slice of the docstore the scan strategy needs.
// *docstore.Store satisfies it; tests inject a fake.
type chunkSource interface {
	ChunksFor(ctx context.Context, tenantID *string) ([]docstore.StoredChunk, error)
}

// StoreScan ranks chunk vectors from the relational store in process. It is
// the fallback when Qdrant is unreachable; candidate sets are small enough
// per tenant that a linear scan is acceptable.
type StoreScan struct {
	// src provides the candidate chunk vectors.
	src chunkSource
}

// NewStoreScan constructs a StoreScan over the given source.
func NewStoreScan(src chunkSource) *StoreScan {
	return &StoreScan{src: src}
}

// Name implements Strategy.
func (s *StoreScan) Name() string { return "store_scan" }

// SimilarChunks loads the tenant-visible chunk vectors and ranks them by
// cosine similarity in process.
func (s *StoreScan) SimilarChunks(ctx context.Context, vec []float32, tenantID *string, limit int, threshold float32) ([]Chunk, error) {
	stored, err := s.src.ChunksFor(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("search: load chunk vectors: %w", err)
	}

	var out []Chunk
	for _, sc := range stored {
		sim := Cosine(vec, sc.Embedding)
		if sim < threshold {
			continue
		}
		out = append(out, Chunk{
			ID:               sc.ID,
			Heading:          sc.Heading,
			Content:          sc.Content,
			TokenCount:       sc.TokenCount,
			Similarity:       sim,
			SourceType:       sc.SourceType,
			LinkedDocumentID: sc.LinkedDocumentID,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is zero or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
