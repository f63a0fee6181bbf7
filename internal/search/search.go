// Package search implements tenant-aware similarity search over embedded
// content chunks. The primary strategy queries Qdrant; when it fails, a
// direct scan over the relational chunk table takes over; when every
// strategy fails the result is empty rather than an error, so retrieval
// can degrade instead of aborting.
package search

import (
	"context"
	"log/slog"

	"github.com/zermattservices/levelset-ai/internal/logging"
)

// Chunk is one similarity-search result.
type Chunk struct {
	// ID is the chunk's stable identifier.
	ID string
	// Heading is the optional section heading the chunk was taken from.
	Heading string
	// Content is the chunk text.
	Content string
	// TokenCount is the chunk's estimated token footprint.
	TokenCount int
	// Similarity is the cosine similarity to the query vector.
	Similarity float32
	// SourceType classifies the chunk origin ("document", "core_context").
	SourceType string
	// LinkedDocumentID points at the source document, when one exists.
	LinkedDocumentID string
}

// Searcher finds stored chunks similar to a query vector.
// Implementations must be safe for concurrent use.
type Searcher interface {
	// SimilarChunks returns chunks with similarity >= threshold, sorted by
	// similarity descending, at most limit entries. tenantID scopes the
	// search: nil restricts it to shared and core-context sources.
	SimilarChunks(ctx context.Context, vec []float32, tenantID *string, limit int, threshold float32) ([]Chunk, error)
}

// Strategy is a named Searcher that can participate in a Ladder.
type Strategy interface {
	Searcher

	// Name returns a short label used in degradation logs ("qdrant", "store_scan").
	Name() string
}

// Ladder runs an ordered list of search strategies and returns the first
// successful result. A strategy failure is logged and the next strategy is
// tried; when every strategy fails the result is empty, not an error.
type Ladder struct {
	// strategies is the ordered list, most preferred first.
	strategies []Strategy
}

// NewLadder constructs a Ladder over the given strategies.
func NewLadder(strategies ...Strategy) *Ladder {
	return &Ladder{strategies: strategies}
}

// SimilarChunks implements Searcher. The returned error is always nil; it
// is part of the signature so the Ladder can stand in for a single strategy.
func (l *Ladder) SimilarChunks(ctx context.Context, vec []float32, tenantID *string, limit int, threshold float32) ([]Chunk, error) {
	log := logging.FromContext(ctx)

	for _, s := range l.strategies {
		chunks, err := s.SimilarChunks(ctx, vec, tenantID, limit, threshold)
		if err != nil {
			log.Warn("search: strategy failed, trying next",
				slog.String("strategy", s.Name()),
				slog.Any("error", err),
			)
			continue
		}
		return chunks, nil
	}
	return nil, nil
}
