package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/zermattservices/levelset-ai/internal/docstore"
	"github.com/zermattservices/levelset-ai/internal/embedding"
	"github.com/zermattservices/levelset-ai/internal/ingest"
	"github.com/zermattservices/levelset-ai/internal/logging"
	"github.com/zermattservices/levelset-ai/internal/search"
)

// NewIngestCmd constructs the `lsai ingest` command, which runs the document
// ingestion pipeline to populate the vector index and the document store.
func NewIngestCmd() *cobra.Command {
	var tenantID string
	var shared bool
	var sourceType string
	var documentID string
	var files []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the vector index",
		Long: `Split, embed, and index markdown or plain-text documents.

Chunks are written to the Qdrant collection and mirrored into the SQLite
document store so search keeps working when Qdrant is down.

Required environment variables:
  EMBEDDING_API_KEY    Embedding API key
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: lsai-chunks)
  DOCSTORE_PATH        SQLite path (default: ~/.lsai/docstore.db)

Examples:
  lsai ingest --shared --file docs/handbook.md
  lsai ingest --tenant org-1 --document-id doc-42 --file policies/overtime.md
  lsai ingest --shared --source-type core_context --file docs/platform.md`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(files) == 0 {
				return fmt.Errorf("ingest: at least one --file is required")
			}
			if tenantID == "" && !shared {
				return fmt.Errorf("ingest: either --tenant or --shared is required")
			}

			embedClient := embedding.NewClient(&embedding.Config{
				Endpoint: os.Getenv("EMBEDDING_ENDPOINT"),
				APIKey:   os.Getenv("EMBEDDING_API_KEY"),
				Model:    os.Getenv("EMBEDDING_MODEL"),
			})

			index, err := search.NewQdrantIndex(ctx, &search.QdrantConfig{
				Host:       os.Getenv("QDRANT_HOST"),
				Port:       getEnvInt("QDRANT_PORT", 0),
				Collection: getEnvOrDefault("QDRANT_COLLECTION", "lsai-chunks"),
				APIKey:     os.Getenv("QDRANT_API_KEY"),
				UseTLS:     os.Getenv("QDRANT_TLS") == "true",
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to connect to Qdrant: %w", err)
			}
			defer func() { _ = index.Close() }()

			dbPath := getEnvOrDefault("DOCSTORE_PATH", defaultDocstorePath())
			store, err := docstore.Open(dbPath)
			if err != nil {
				return fmt.Errorf("ingest: failed to open document store: %w", err)
			}
			defer func() { _ = store.Close() }()

			pipeline, err := ingest.NewPipeline(embedClient, index, store, nil)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			sources := make([]ingest.Source, 0, len(files))
			for _, f := range files {
				sources = append(sources, ingest.Source{
					Path:       f,
					TenantID:   tenantID,
					Shared:     shared,
					SourceType: sourceType,
					DocumentID: documentID,
				})
			}

			log.Info("starting ingestion", slog.Int("sources", len(sources)))

			if err := pipeline.Ingest(ctx, sources, func(msg string) {
				log.Info(msg)
			}); err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete", slog.Int("sources", len(sources)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant that owns the ingested chunks")
	cmd.Flags().BoolVar(&shared, "shared", false, "Make the chunks visible to every tenant")
	cmd.Flags().StringVar(&sourceType, "source-type", "document", "Chunk source type (document, core_context)")
	cmd.Flags().StringVar(&documentID, "document-id", "", "Document ID to link the chunks to")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "File to ingest (repeatable)")

	return cmd
}
