package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadChunking(t *testing.T) {
	cfg := defaultConfig()
	cfg.RAG.ChunkSize = 0
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownVectorStore(t *testing.T) {
	cfg := defaultConfig()
	cfg.RAG.VectorStore = "pinecone"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadRetrieval(t *testing.T) {
	cfg := defaultConfig()
	cfg.RAG.TopK = 0
	assert.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.RAG.MaxContextChars = -1
	assert.Error(t, cfg.Validate())
}

func TestOverrideByEnv(t *testing.T) {
	t.Setenv("RAG_TOP_K", "9")
	t.Setenv("RAG_VECTOR_STORE", "memory")
	t.Setenv("APP_PORT", "9090")

	cfg := defaultConfig()
	overrideByEnv(cfg)

	assert.Equal(t, 9, cfg.RAG.TopK)
	assert.Equal(t, "memory", cfg.RAG.VectorStore)
	assert.Equal(t, "0.0.0.0:9090", cfg.HTTPAddr())
}
