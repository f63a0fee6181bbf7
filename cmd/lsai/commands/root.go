// Package commands defines all Cobra CLI commands for the lsai binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/zermattservices/levelset-ai/internal/audit"
	"github.com/zermattservices/levelset-ai/internal/config"
	"github.com/zermattservices/levelset-ai/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lsai",
		Short: "Levelset AI — the workforce assistant service",
		Long: `Levelset AI is the assistant service for the Levelset workforce platform.

It answers questions about teams, schedules, ratings, and company policy by
assembling tenant-scoped context from cached summaries, a vector index, and
deep document analysis, then streaming a model completion over SSE.

Configuration comes from environment variables or a YAML config file
(~/.lsai/config.yaml). See 'lsai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.lsai/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIngestCmd(),
		NewStatsCmd(),
		NewVersionCmd(),
	)

	return root
}
