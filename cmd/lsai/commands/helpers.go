package commands

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zermattservices/levelset-ai/internal/invoker"
)

// getEnvOrDefault returns the env var value, or fallback when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as an int, or fallback when unset or
// unparseable.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// defaultDocstorePath resolves the default SQLite path (~/.lsai/docstore.db),
// creating the directory if needed. Falls back to the working directory when
// the home directory cannot be determined.
func defaultDocstorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "docstore.db"
	}
	dir := filepath.Join(home, ".lsai")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "docstore.db"
	}
	return filepath.Join(dir, "docstore.db")
}

// ladderFromEnv builds the per-task model ladder from MODEL_<TASK>_<RUNG>
// env vars. Unset entries fall back to the invoker's built-in pairs.
func ladderFromEnv() map[string]invoker.ModelPair {
	ladder := make(map[string]invoker.ModelPair)
	for _, task := range []string{"chat", "analysis", "document"} {
		upper := strings.ToUpper(task)
		pair := invoker.ModelPair{
			Primary: os.Getenv("MODEL_" + upper + "_PRIMARY"),
			Backup:  os.Getenv("MODEL_" + upper + "_BACKUP"),
		}
		if pair.Primary != "" || pair.Backup != "" {
			ladder[task] = pair
		}
	}
	return ladder
}
