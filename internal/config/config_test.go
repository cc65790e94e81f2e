package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.toml"))
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 200, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, IndexChromem, cfg.VectorIndex.Backend)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.EqualValues(t, 10<<20, cfg.Upload.MaxBytes)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[llm]
provider = "compatible"
base_url = "http://llm.local/v1"
api_key = "file-key"

[rag]
chunk_size = 400
chunk_overlap = 50

[vector_index]
backend = "QDRANT"
qdrant_url = "http://qdrant:6333"
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RAG_CHUNK_OVERLAP", "80")
	t.Setenv("LLM_BASE_BACKOFF_SECONDS", "1.5")
	t.Setenv("REDIS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 400, cfg.RAG.ChunkSize)
	assert.Equal(t, 80, cfg.RAG.ChunkOverlap)
	assert.Equal(t, IndexQdrant, cfg.VectorIndex.Backend)
	assert.InDelta(t, 1.5, cfg.LLM.BaseBackoffSeconds, 1e-9)
	assert.False(t, cfg.Redis.Enabled)

	assert.Equal(t, "compatible", cfg.Embedding.Provider)
	assert.Equal(t, "http://llm.local/v1", cfg.Embedding.BaseURL)
	assert.Equal(t, "file-key", cfg.Embedding.APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("APP_PORT=9191\n"), 0o600))
	t.Setenv("ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("APP_PORT") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.App.Port)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap not below size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama" }},
		{"unknown backend", func(c *Config) { c.VectorIndex.Backend = "pinecone" }},
		{"qdrant without url", func(c *Config) { c.VectorIndex.Backend = IndexQdrant }},
		{"bad port", func(c *Config) { c.App.Port = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.applyFallbacks()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := defaultConfig()
	cfg.applyFallbacks()
	assert.NoError(t, cfg.Validate())
}

func TestEnvHelpersIgnoreGarbage(t *testing.T) {
	t.Setenv("X_INT", "nope")
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_FLOAT", "1,5")
	assert.Equal(t, 3, getEnvAsInt("X_INT", 3))
	assert.True(t, getEnvAsBool("X_BOOL", true))
	assert.InDelta(t, 2.5, getEnvAsFloat("X_FLOAT", 2.5), 1e-9)
}
