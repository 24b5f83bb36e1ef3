package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("DATA_DIR", "/tmp/finance")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.LLM.MaxRateLimitRetries)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, filepath.Join("/tmp/finance", "finance.db"), cfg.Store.SQLitePath)
	assert.Equal(t, filepath.Join("/tmp/finance", "uploads"), cfg.Files.Dir)
	assert.Equal(t, 1000, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 8000, cfg.RAG.ContextBudget)
	assert.Equal(t, 10, cfg.Profile.ChatRecentLimit)
	assert.Equal(t, 0.85, cfg.Extraction.MinPrintableRatio)
	assert.False(t, cfg.DocumentAIEnabled())
}

func TestLoad_EmbeddingKeyInheritsFromSameProvider(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("LLM_API_KEY", "g-key")
	t.Setenv("EMBED_PROVIDER", "gemini")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "g-key", cfg.Embedding.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "unknown provider",
			env:  map[string]string{"LLM_PROVIDER": "llama", "LLM_API_KEY": "x"},
		},
		{
			name: "missing api key",
			env:  map[string]string{"LLM_PROVIDER": "anthropic"},
		},
		{
			name: "bigquery without project",
			env:  map[string]string{"LLM_API_KEY": "x", "STORE_BACKEND": "bigquery"},
		},
		{
			name: "gcs without bucket",
			env:  map[string]string{"LLM_API_KEY": "x", "FILES_BACKEND": "gcs"},
		},
		{
			name: "overlap not smaller than chunk",
			env:  map[string]string{"LLM_API_KEY": "x", "RAG_CHUNK_SIZE": "100", "RAG_CHUNK_OVERLAP": "100"},
		},
		{
			name: "embedding provider without key",
			env:  map[string]string{"LLM_API_KEY": "x", "LLM_PROVIDER": "anthropic", "EMBED_PROVIDER": "openai"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
		})
	}
}

func TestLLMString_HidesKey(t *testing.T) {
	l := LLM{Provider: "openai", APIKey: "sk-secret", Model: "gpt-4"}
	s := l.String()

	assert.NotContains(t, s, "sk-secret")
	assert.Contains(t, s, "api_key=set")
}
