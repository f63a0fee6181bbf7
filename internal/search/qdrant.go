package search

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/zermattservices/levelset-ai/internal/embedding"
)

// QdrantConfig holds connection parameters for the Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex is the primary search strategy, backed by a Qdrant collection
// whose similarity scoring, threshold, and limit are all pushed down to the
// server.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// IndexedChunk is a chunk plus the scoping fields and vector needed to
// store it in the index.
type IndexedChunk struct {
	Chunk

	// TenantID scopes the chunk to one tenant; nil means not tenant-owned.
	TenantID *string
	// Shared marks a chunk visible to every tenant.
	Shared bool
	// Embedding is the chunk's vector.
	Embedding []float32
}

// NewQdrantIndex creates a QdrantIndex, ensuring the target collection
// exists (creating it if necessary).
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     embedding.Dimensions,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Name implements Strategy.
func (s *QdrantIndex) Name() string { return "qdrant" }

// SimilarChunks runs a server-side cosine similarity query. Visibility is
// enforced with a filter: shared and core-context chunks always match, the
// tenant's own chunks only when tenantID is non-nil.
func (s *QdrantIndex) SimilarChunks(ctx context.Context, vec []float32, tenantID *string, limit int, threshold float32) ([]Chunk, error) {
	filter := &qdrant.Filter{
		Should: []*qdrant.Condition{
			qdrant.NewMatchBool("shared", true),
			qdrant.NewMatch("source_type", "core_context"),
		},
	}
	if tenantID != nil {
		filter.Should = append(filter.Should, qdrant.NewMatch("tenant_id", *tenantID))
	}

	limit64 := uint64(limit)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Filter:         filter,
		Limit:          &limit64,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w", err)
	}

	chunks := make([]Chunk, 0, len(results))
	for _, r := range results {
		c := Chunk{
			ID:         r.Id.GetUuid(),
			Similarity: r.Score,
		}
		if p := r.Payload; p != nil {
			if v, ok := p["heading"]; ok {
				c.Heading = v.GetStringValue()
			}
			if v, ok := p["content"]; ok {
				c.Content = v.GetStringValue()
			}
			if v, ok := p["token_count"]; ok {
				c.TokenCount = int(v.GetIntegerValue())
			}
			if v, ok := p["source_type"]; ok {
				c.SourceType = v.GetStringValue()
			}
			if v, ok := p["linked_document_id"]; ok {
				c.LinkedDocumentID = v.GetStringValue()
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Upsert stores or updates a batch of chunks with their embeddings.
func (s *QdrantIndex) Upsert(ctx context.Context, chunks []IndexedChunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]interface{}{
			"heading":            c.Heading,
			"content":            c.Content,
			"token_count":        c.TokenCount,
			"source_type":        c.SourceType,
			"linked_document_id": c.LinkedDocumentID,
			"shared":             c.Shared,
		}
		if c.TenantID != nil {
			payload["tenant_id"] = *c.TenantID
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Ping calls the Qdrant HealthCheck RPC, for readiness probes.
func (s *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}
