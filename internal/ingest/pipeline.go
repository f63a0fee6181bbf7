// Package ingest implements the document ingestion pipeline.
// It reads markdown or plain-text source files, splits them into
// heading-scoped overlapping chunks, embeds each chunk, and upserts the
// results into the vector index and the document store.
// This pipeline is invoked by the `lsai ingest` CLI command.
package ingest

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/zermattservices/levelset-ai/internal/budget"
	"github.com/zermattservices/levelset-ai/internal/docstore"
	"github.com/zermattservices/levelset-ai/internal/search"
)

// Source describes one file to be ingested.
type Source struct {
	// Path is the filesystem path of the markdown or text file.
	Path string

	// TenantID scopes the resulting chunks to one tenant. Empty means the
	// chunks are not tenant-owned.
	TenantID string

	// Shared marks the chunks visible to every tenant.
	Shared bool

	// SourceType classifies the content ("document", "core_context").
	// Defaults to "document".
	SourceType string

	// DocumentID links the chunks back to a stored document, enabling the
	// deep-document retrieval tier. Optional.
	DocumentID string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between
	// consecutive chunks of one section. Defaults to 100 if zero.
	ChunkOverlap int
}

// Embedder converts one text into a dense vector.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Index persists embedded chunks for similarity search.
type Index interface {
	Upsert(ctx context.Context, chunks []search.IndexedChunk) error
}

// ChunkStore mirrors embedded chunks into the relational store so the
// scan-based search strategy can serve them when the index is down.
type ChunkStore interface {
	UpsertChunk(ctx context.Context, c docstore.StoredChunk) error
}

// Pipeline orchestrates the read → split → embed → upsert flow for a set
// of source files.
type Pipeline struct {
	// embedder converts chunk text into vectors.
	embedder Embedder

	// index is the primary search backend.
	index Index

	// store is the relational mirror of the index.
	store ChunkStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder Embedder, index Index, store ChunkStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingest: index must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingest: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}

	return &Pipeline{
		embedder: embedder,
		index:    index,
		store:    store,
		cfg:      cfg,
	}, nil
}

// Ingest reads, splits, embeds, and stores all provided sources.
// It processes sources sequentially and returns the first error encountered.
// Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, sources []Source, progress func(msg string)) error {
	if progress == nil {
		progress = func(string) {}
	}

	for _, src := range sources {
		progress(fmt.Sprintf("reading %s", src.Path))

		raw, err := os.ReadFile(src.Path)
		if err != nil {
			return fmt.Errorf("ingest: read failed for %s: %w", src.Path, err)
		}

		chunks := p.split(string(raw))
		progress(fmt.Sprintf("split %s into %d chunks", src.Path, len(chunks)))

		sourceType := src.SourceType
		if sourceType == "" {
			sourceType = "document"
		}

		var tenantID *string
		if src.TenantID != "" {
			tenantID = &src.TenantID
		}

		indexed := make([]search.IndexedChunk, 0, len(chunks))
		for i, piece := range chunks {
			vec, err := p.embedder.Generate(ctx, piece.Body)
			if err != nil {
				return fmt.Errorf("ingest: embedding failed for %s chunk %d: %w", src.Path, i, err)
			}

			indexed = append(indexed, search.IndexedChunk{
				Chunk: search.Chunk{
					ID:               chunkID(src.Path, src.TenantID, i),
					Heading:          piece.Heading,
					Content:          piece.Body,
					TokenCount:       budget.Estimate(piece.Body),
					SourceType:       sourceType,
					LinkedDocumentID: src.DocumentID,
				},
				TenantID:  tenantID,
				Shared:    src.Shared,
				Embedding: vec,
			})
		}

		if err := p.index.Upsert(ctx, indexed); err != nil {
			return fmt.Errorf("ingest: index upsert failed for %s: %w", src.Path, err)
		}

		for _, c := range indexed {
			stored := docstore.StoredChunk{
				ID:               c.ID,
				TenantID:         c.TenantID,
				Shared:           c.Shared,
				SourceType:       c.SourceType,
				Heading:          c.Heading,
				Content:          c.Content,
				TokenCount:       c.TokenCount,
				LinkedDocumentID: c.LinkedDocumentID,
				Embedding:        c.Embedding,
			}
			if err := p.store.UpsertChunk(ctx, stored); err != nil {
				return fmt.Errorf("ingest: store upsert failed for %s: %w", src.Path, err)
			}
		}

		progress(fmt.Sprintf("ingested %d chunks from %s", len(indexed), src.Path))
	}

	return nil
}

// split sections the text by markdown headings, then cuts each section body
// into overlapping chunks that inherit the section heading.
func (p *Pipeline) split(text string) []Piece {
	var out []Piece
	for _, sec := range SplitSections(text) {
		body := sec.Body
		size := p.cfg.ChunkSize
		overlap := p.cfg.ChunkOverlap

		for start := 0; start < len(body); start += size - overlap {
			end := start + size
			if end > len(body) {
				end = len(body)
			}
			out = append(out, Piece{Heading: sec.Heading, Body: body[start:end]})
			if end == len(body) {
				break
			}
		}
	}
	return out
}

// Piece is one chunk-sized slice of a section, carrying its heading.
type Piece struct {
	// Heading is the section heading the slice was taken from. May be empty.
	Heading string
	// Body is the chunk text.
	Body string
}

// chunkID generates a deterministic UUID-formatted ID for a chunk based on
// its source path, tenant, and chunk index. Qdrant requires point IDs to be
// UUIDs or unsigned integers, so the hash is rendered in UUID layout.
func chunkID(path, tenantID string, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s#%d", path, tenantID, index)))
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
