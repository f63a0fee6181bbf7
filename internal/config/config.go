// Package config provides YAML-based configuration for lsai.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. LSAI_CONFIG environment variable
//  3. ~/.lsai/config.yaml
//  4. ./lsai.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the chat-completion API and the per-task model ladders.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding API.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector index connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Docstore configures the SQLite document store.
	Docstore DocstoreConfig `yaml:"docstore"`

	// Reasoning configures the deep-document reasoning service.
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig holds chat-completion settings.
type ModelConfig struct {
	// Endpoint is the chat-completions API base URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the API key. Prefer env var MODEL_API_KEY.
	APIKey string `yaml:"api_key"`
	// MaxTokens is the maximum number of tokens in a response.
	MaxTokens int `yaml:"max_tokens"`
	// Chat, Analysis, and Document are the per-task model ladders.
	Chat     TaskModels `yaml:"chat"`
	Analysis TaskModels `yaml:"analysis"`
	Document TaskModels `yaml:"document"`
}

// TaskModels is one task type's primary model and its escalation backup.
type TaskModels struct {
	// Primary is the model tried first.
	Primary string `yaml:"primary"`
	// Backup is the model tried once when the primary fails.
	Backup string `yaml:"backup"`
}

// EmbeddingConfig holds embedding API settings.
type EmbeddingConfig struct {
	// Endpoint is the embeddings API base URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
}

// QdrantConfig holds Qdrant vector index settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// DocstoreConfig holds SQLite document store settings.
type DocstoreConfig struct {
	// Path is the SQLite database path.
	Path string `yaml:"path"`
}

// ReasoningConfig holds deep-document reasoning service settings.
type ReasoningConfig struct {
	// URL is the reasoning service base URL. Empty disables the tier.
	URL string `yaml:"url"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var LSAI_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_ENDPOINT", func(c *Config) string { return c.Model.Endpoint }},
	{"MODEL_API_KEY", func(c *Config) string { return c.Model.APIKey }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_CHAT_PRIMARY", func(c *Config) string { return c.Model.Chat.Primary }},
	{"MODEL_CHAT_BACKUP", func(c *Config) string { return c.Model.Chat.Backup }},
	{"MODEL_ANALYSIS_PRIMARY", func(c *Config) string { return c.Model.Analysis.Primary }},
	{"MODEL_ANALYSIS_BACKUP", func(c *Config) string { return c.Model.Analysis.Backup }},
	{"MODEL_DOCUMENT_PRIMARY", func(c *Config) string { return c.Model.Document.Primary }},
	{"MODEL_DOCUMENT_BACKUP", func(c *Config) string { return c.Model.Document.Backup }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"DOCSTORE_PATH", func(c *Config) string { return c.Docstore.Path }},
	{"REASONING_URL", func(c *Config) string { return c.Reasoning.URL }},
	{"SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"LSAI_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("LSAI_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".lsai", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("lsai.yaml"); err == nil {
		return "lsai.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
