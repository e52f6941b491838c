package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TAGGER_CHECKPOINT_EVERY", "")
	t.Setenv("TAGGER_LLM_MODEL", "")

	cfg := Load()

	assert.Equal(t, 10, cfg.CheckpointEvery)
	assert.Equal(t, 24*time.Hour, cfg.FilesTTL)
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout)
	assert.Equal(t, ProviderOllama, cfg.LLMProvider)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TAGGER_CHECKPOINT_EVERY", "5")
	t.Setenv("TAGGER_LLM_TIMEOUT", "30")
	t.Setenv("TAGGER_FILES_TTL", "2h")
	t.Setenv("TAGGER_POLL_RATE", "0.5")
	t.Setenv("TAGGER_LOG_LEVEL", "debug")
	t.Setenv("TAGGER_STORE", StoreSurrealDB)

	cfg := Load()

	assert.Equal(t, 5, cfg.CheckpointEvery)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 2*time.Hour, cfg.FilesTTL)
	assert.Equal(t, 0.5, cfg.PollRate)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, StoreSurrealDB, cfg.Store)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tagger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/tagger
llm:
  provider: openai
  model: gpt-4o-mini
  timeout: 45s
jobs:
  checkpoint_every: 20
log:
  level: warn
`), 0o644))
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TAGGER_LLM_MODEL", "gpt-4o")
	t.Setenv("TAGGER_CHECKPOINT_EVERY", "")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/tagger", cfg.DataDir)
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "gpt-4o", cfg.LLMModel, "environment wins over file")
	assert.Equal(t, 45*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 20, cfg.CheckpointEvery)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("llm:\n  timeout: soon\n"), 0o644))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "llm.timeout")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"unknown store", func(c *Config) { c.Store = "redis" }, false},
		{"unknown provider", func(c *Config) { c.LLMProvider = "mystery" }, false},
		{"openai without key", func(c *Config) { c.LLMProvider = ProviderOpenAI; c.OpenAIAPIKey = "" }, false},
		{"anthropic with key", func(c *Config) { c.LLMProvider = ProviderAnthropic; c.AnthropicAPIKey = "k" }, true},
		{"zero checkpoint interval", func(c *Config) { c.CheckpointEvery = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLogLevel("Error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("job started", "job_id", "abc")
	logger.Debug("hidden")

	assert.Contains(t, stderr.String(), "job_id=abc")
	assert.Contains(t, file.String(), `"job_id":"abc"`)
	assert.NotContains(t, file.String(), "hidden")
}
