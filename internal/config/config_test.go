package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUIZPROC_CONFIG", "")
	t.Setenv("QUIZPROC_LLM_PROVIDER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "quizproc", cfg.SurrealDBNamespace)
	assert.Equal(t, ProviderOllama, cfg.LLMProvider)
	assert.Equal(t, 120*time.Second, cfg.ItemTimeout)
	assert.Equal(t, 4, cfg.ItemConcurrency)
	assert.Equal(t, 10, cfg.DefaultBatchSize)
	assert.Equal(t, "any_failure", cfg.TerminalPolicy)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quizproc.yaml")
	yaml := `
llm:
  provider: Anthropic
  model: claude-haiku
exec:
  item_concurrency: 0
  batch_size: 25
  single_active_task: true
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("QUIZPROC_CONFIG", path)
	t.Setenv("QUIZPROC_BATCH_SIZE", "40")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.LLMProvider, "provider is lowercased")
	assert.Equal(t, "claude-haiku", cfg.LLMModel)
	assert.Equal(t, 1, cfg.ItemConcurrency, "concurrency is at least one")
	assert.Equal(t, 40, cfg.DefaultBatchSize, "env overrides file")
	assert.True(t, cfg.SingleActiveTask)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("QUIZPROC_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo, "quizproc-server")

	logger.Debug("hidden")
	logger.Info("task started", "task_id", "t1")

	assert.Contains(t, stderr.String(), "task started")
	assert.NotContains(t, stderr.String(), "hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(file.String())), &record))
	assert.Equal(t, "task started", record["msg"])
	assert.Equal(t, "quizproc-server", record["component"])
	assert.Equal(t, "t1", record["task_id"])
}

func TestSetupLoggerStderrOnly(t *testing.T) {
	logger, cleanup := SetupLogger("", slog.LevelInfo, "quizproc")
	assert.NotNil(t, logger)
	assert.NoError(t, cleanup())
}
