// Package retriever assembles the model context for a tenant query from
// three tiers: a cached core summary of the tenant's domain, semantically
// similar content chunks, and an optional deep-document pass over the
// source material behind the strongest chunks. Each tier degrades
// independently — a retrieval failure is never fatal to the caller.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zermattservices/levelset-ai/internal/budget"
	"github.com/zermattservices/levelset-ai/internal/cache"
	"github.com/zermattservices/levelset-ai/internal/logging"
	"github.com/zermattservices/levelset-ai/internal/search"
)

const (
	// coreContextKey is the cache key for a tenant's core context.
	coreContextKey = "context:core"

	// coreContextTTL bounds how stale the cached core context may get.
	coreContextTTL = 30 * time.Minute

	// chunkLimit and chunkThreshold are the semantic-search parameters.
	chunkLimit     = 5
	chunkThreshold = 0.65

	// deepThreshold is the minimum chunk similarity that can trigger the
	// deep-document tier.
	deepThreshold = 0.75
)

// Embedder produces the query vector for the semantic tier.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// DocumentResolver is the slice of the docstore the retriever needs.
type DocumentResolver interface {
	// CoreContext returns the concatenated active domain summaries.
	CoreContext(ctx context.Context) (string, error)
	// TreeIDs resolves document ids to deduplicated reasoning tree ids.
	TreeIDs(ctx context.Context, docIDs []string) ([]string, error)
}

// Reasoner is the deep-document reasoning service.
type Reasoner interface {
	Available(ctx context.Context) bool
	Query(ctx context.Context, treeIDs []string, question string) (string, error)
}

// RetrievedContext is the assembled context for one query. It is always
// populated with whatever could be gathered, never an error.
type RetrievedContext struct {
	// CoreContext is the cached tenant summary. Empty when unavailable.
	CoreContext string `json:"core_context"`
	// SemanticChunks are the rendered similar chunks, best match first.
	SemanticChunks []string `json:"semantic_chunks"`
	// DocumentContext is the deep-document answer. Empty when the tier did
	// not trigger or failed.
	DocumentContext string `json:"document_context,omitempty"`
	// TotalTokens is the estimated token footprint of all populated fields.
	TotalTokens int `json:"total_tokens"`
}

// Retriever orchestrates the three retrieval tiers.
// It is safe for concurrent use.
type Retriever struct {
	// store caches each tenant's core context between queries.
	store *cache.Cache[string]
	// embedder converts the query into its vector.
	embedder Embedder
	// searcher finds similar chunks; usually a search.Ladder.
	searcher search.Searcher
	// docs resolves summaries and document trees.
	docs DocumentResolver
	// reasoner answers deep-document questions. May be nil (tier disabled).
	reasoner Reasoner
	// metrics is nil unless Instrument was called.
	metrics *metrics
}

// New constructs a Retriever. The reasoner may be nil, which disables the
// deep-document tier; every other dependency is required.
func New(store *cache.Cache[string], embedder Embedder, searcher search.Searcher, docs DocumentResolver, reasoner Reasoner) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("retriever: cache must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retriever: embedder must not be nil")
	}
	if searcher == nil {
		return nil, fmt.Errorf("retriever: searcher must not be nil")
	}
	if docs == nil {
		return nil, fmt.Errorf("retriever: document resolver must not be nil")
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		searcher: searcher,
		docs:     docs,
		reasoner: reasoner,
	}, nil
}

// Retrieve assembles the context for query on behalf of tenantID. The core
// and semantic tiers run concurrently; the deep-document tier runs after
// the semantic tier because its triggering depends on the chunk scores.
// Retrieve never fails: each tier degrades to empty output with a log entry.
func (r *Retriever) Retrieve(ctx context.Context, query, tenantID string) *RetrievedContext {
	log := logging.FromContext(ctx)
	start := time.Now()
	defer r.metrics.observe(start)

	var (
		core    string
		chunks  []search.Chunk
		tier2OK bool
	)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		v, err := r.store.GetOrFetch(ctx, tenantID, coreContextKey, coreContextTTL, r.loadCoreContext)
		if err != nil {
			r.metrics.tierFailure(tierCore)
			log.Error("retriever: core context unavailable", slog.Any("error", err))
			return
		}
		core = v
	}()

	go func() {
		defer wg.Done()
		vec, err := r.embedder.Generate(ctx, query)
		if err != nil {
			r.metrics.tierFailure(tierSemantic)
			log.Warn("retriever: query embedding failed, skipping semantic tiers", slog.Any("error", err))
			return
		}
		found, err := r.searcher.SimilarChunks(ctx, vec, &tenantID, chunkLimit, chunkThreshold)
		if err != nil {
			r.metrics.tierFailure(tierSemantic)
			log.Warn("retriever: similarity search failed, skipping semantic tiers", slog.Any("error", err))
			return
		}
		chunks = found
		tier2OK = true
	}()

	wg.Wait()

	rendered := make([]string, 0, len(chunks))
	for _, c := range chunks {
		rendered = append(rendered, renderChunk(c))
	}

	var docContext string
	if tier2OK {
		docContext = r.deepDocumentContext(ctx, query, chunks)
	}

	rc := &RetrievedContext{
		CoreContext:     core,
		SemanticChunks:  rendered,
		DocumentContext: docContext,
	}
	rc.TotalTokens = budget.EstimateAll(append([]string{core, docContext}, rendered...)...)
	return rc
}

// loadCoreContext fetches and concatenates the active domain summaries.
// An empty summary table is valid but suspicious, so it logs a warning.
func (r *Retriever) loadCoreContext(ctx context.Context) (string, error) {
	content, err := r.docs.CoreContext(ctx)
	if err != nil {
		return "", fmt.Errorf("retriever: load core context: %w", err)
	}
	if content == "" {
		logging.FromContext(ctx).Warn("retriever: no active domain summaries")
	}
	return content, nil
}

// deepDocumentContext runs the deep-document tier when at least one chunk
// is both a strong match and linked to a source document whose reasoning
// tree can be resolved. All triggering documents are answered in a single
// combined query. Any failure degrades to an empty result.
func (r *Retriever) deepDocumentContext(ctx context.Context, query string, chunks []search.Chunk) string {
	log := logging.FromContext(ctx)

	var docIDs []string
	seen := make(map[string]bool)
	for _, c := range chunks {
		if c.Similarity < deepThreshold || c.LinkedDocumentID == "" {
			continue
		}
		if seen[c.LinkedDocumentID] {
			continue
		}
		seen[c.LinkedDocumentID] = true
		docIDs = append(docIDs, c.LinkedDocumentID)
	}
	if len(docIDs) == 0 || r.reasoner == nil {
		return ""
	}

	treeIDs, err := r.docs.TreeIDs(ctx, docIDs)
	if err != nil {
		r.metrics.tierFailure(tierDeep)
		log.Warn("retriever: document tree lookup failed", slog.Any("error", err))
		return ""
	}
	if len(treeIDs) == 0 {
		return ""
	}

	if !r.reasoner.Available(ctx) {
		log.Info("retriever: reasoning service unavailable, skipping deep document pass")
		return ""
	}

	answer, err := r.reasoner.Query(ctx, treeIDs, query)
	if err != nil {
		r.metrics.tierFailure(tierDeep)
		log.Warn("retriever: deep document query failed", slog.Any("error", err))
		return ""
	}
	return answer
}

// renderChunk formats a chunk for prompt injection.
func renderChunk(c search.Chunk) string {
	if c.Heading == "" {
		return c.Content
	}
	return "**" + c.Heading + "**\n" + c.Content
}
