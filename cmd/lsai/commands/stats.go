package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/zermattservices/levelset-ai/internal/cache"
)

// NewStatsCmd constructs the `lsai stats` command, which queries a running
// server's cache stats endpoint and prints the counters.
func NewStatsCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the context cache stats of a running server",
		Long: `Query a running lsai server for its context cache counters.

Authentication uses LSAI_API_KEY when set.

Examples:
  lsai stats
  lsai stats --server http://assistant.internal:8090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, serverURL+"/api/cache/stats", nil)
			if err != nil {
				return fmt.Errorf("stats: create request: %w", err)
			}
			if key := getEnvOrDefault("LSAI_API_KEY", ""); key != "" {
				req.Header.Set("Authorization", "Bearer "+key)
			}

			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("stats: request failed (is the server running?): %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("stats: server returned %d", resp.StatusCode)
			}

			var stats cache.Stats
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				return fmt.Errorf("stats: decode response: %w", err)
			}

			fmt.Printf("tenants:   %d\n", stats.Tenants)
			fmt.Printf("entries:   %d\n", stats.Entries)
			fmt.Printf("hits:      %d\n", stats.Hits)
			fmt.Printf("misses:    %d\n", stats.Misses)
			fmt.Printf("sets:      %d\n", stats.Sets)
			fmt.Printf("evictions: %d\n", stats.Evictions)
			fmt.Printf("hit rate:  %.1f%%\n", stats.HitRate)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8090", "Base URL of the running lsai server")

	return cmd
}
