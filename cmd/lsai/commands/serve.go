package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zermattservices/levelset-ai/internal/cache"
	"github.com/zermattservices/levelset-ai/internal/docstore"
	"github.com/zermattservices/levelset-ai/internal/embedding"
	"github.com/zermattservices/levelset-ai/internal/invoker"
	"github.com/zermattservices/levelset-ai/internal/logging"
	"github.com/zermattservices/levelset-ai/internal/reasoning"
	"github.com/zermattservices/levelset-ai/internal/retriever"
	"github.com/zermattservices/levelset-ai/internal/search"
	"github.com/zermattservices/levelset-ai/internal/server"
)

// NewServeCmd constructs the `lsai serve` command, which starts the HTTP
// server exposing the assistant API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant HTTP server",
		Long: `Start the assistant HTTP server.

The server exposes the streaming chat API, cache invalidation and stats
endpoints, readiness probes, and Prometheus metrics.

Examples:
  lsai serve
  lsai serve --port 9090
  MODEL_CHAT_PRIMARY=gpt-4o lsai serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Flags win over SERVER_HOST/SERVER_PORT, which win over defaults.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SERVER_PORT", port)
			}

			dbPath := getEnvOrDefault("DOCSTORE_PATH", defaultDocstorePath())
			store, err := docstore.Open(dbPath)
			if err != nil {
				return fmt.Errorf("serve: failed to open document store: %w", err)
			}
			defer func() { _ = store.Close() }()
			log.Info("docstore opened", slog.String("path", dbPath))

			ctxCache := cache.New[string]()
			ctxCache.Start()
			defer ctxCache.Stop()

			embedClient := embedding.NewClient(&embedding.Config{
				Endpoint: os.Getenv("EMBEDDING_ENDPOINT"),
				APIKey:   os.Getenv("EMBEDDING_API_KEY"),
				Model:    os.Getenv("EMBEDDING_MODEL"),
			})

			pingers := []server.Pinger{
				server.NewDependencyPinger("docstore", store.Ping),
				server.NewDependencyPinger("embedding", embedClient.Ping),
			}

			// Qdrant is the primary search strategy; when it is unreachable at
			// startup the server still comes up on the store-scan fallback.
			strategies := []search.Strategy{}
			qdrantIdx, err := search.NewQdrantIndex(ctx, &search.QdrantConfig{
				Host:       os.Getenv("QDRANT_HOST"),
				Port:       getEnvInt("QDRANT_PORT", 0),
				Collection: getEnvOrDefault("QDRANT_COLLECTION", "lsai-chunks"),
				APIKey:     os.Getenv("QDRANT_API_KEY"),
				UseTLS:     os.Getenv("QDRANT_TLS") == "true",
			})
			if err != nil {
				log.Warn("serve: qdrant unavailable, falling back to store scan", slog.Any("error", err))
			} else {
				defer func() { _ = qdrantIdx.Close() }()
				strategies = append(strategies, qdrantIdx)
				pingers = append(pingers, server.NewDependencyPinger("qdrant", qdrantIdx.Ping))
			}
			strategies = append(strategies, search.NewStoreScan(store))

			var reasoner retriever.Reasoner
			if url := os.Getenv("REASONING_URL"); url != "" {
				rc := reasoning.NewClient(&reasoning.Config{BaseURL: url})
				reasoner = rc
				pingers = append(pingers, server.NewDependencyPinger("reasoning", func(ctx context.Context) error {
					if !rc.Available(ctx) {
						return errors.New("health endpoint not responding")
					}
					return nil
				}))
				log.Info("reasoning service configured", slog.String("url", url))
			} else {
				log.Info("reasoning service not configured, deep document tier disabled")
			}

			ret, err := retriever.New(ctxCache, embedClient, search.NewLadder(strategies...), store, reasoner)
			if err != nil {
				return fmt.Errorf("serve: failed to build retriever: %w", err)
			}

			// One registry carries both the retriever's and the server's metrics.
			registry := prometheus.NewRegistry()
			ret.Instrument(registry)

			model := invoker.NewClient(&invoker.Config{
				Endpoint: os.Getenv("MODEL_ENDPOINT"),
				APIKey:   os.Getenv("MODEL_API_KEY"),
				Ladder:   ladderFromEnv(),
			})

			srv, err := server.New(ret, server.Model(model), ctxCache, &server.Config{
				Host:      host,
				Port:      port,
				MaxTokens: getEnvInt("MODEL_MAX_TOKENS", 0),
				Logger:    log,
				Pingers:   pingers,
				APIKey:    os.Getenv("LSAI_API_KEY"),
				Registry:  registry,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8090, "TCP port to listen on")

	return cmd
}
