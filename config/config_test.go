package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/bizkb/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "./knowledge_base", cfg.BaseDir)
	assert.Equal(t, BackendBadger, cfg.Index.Backend)
	assert.Equal(t, 3, cfg.Search.TopK)
	assert.Equal(t, 2, cfg.Search.MaxRelated)
	assert.Equal(t, 10*time.Second, cfg.Search.RelatedTimeout.Std())
	assert.Equal(t, 15, cfg.AI.MaxEntities)
	assert.Equal(t, 5, cfg.Ingestion.ChunkSentences)
	assert.Equal(t, time.Second, cfg.Reindex.RetryDelay.Std())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_dir: /srv/kb
index:
  backend: qdrant
  qdrant_url: http://qdrant:6333
search:
  top_k: 7
  related_timeout: 3s
`), 0644))
	t.Setenv("BIZKB_MAX_RELATED", "4")
	t.Setenv("BIZKB_QDRANT_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/kb", cfg.BaseDir)
	assert.Equal(t, BackendQdrant, cfg.Index.Backend)
	assert.Equal(t, "http://qdrant:6333", cfg.Index.QdrantURL)
	assert.Equal(t, "secret", cfg.Index.QdrantAPIKey)
	assert.Equal(t, 7, cfg.Search.TopK)
	assert.Equal(t, 4, cfg.Search.MaxRelated)
	assert.Equal(t, 3*time.Second, cfg.Search.RelatedTimeout.Std())
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  backend: sqlite\n"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, `unknown index backend "sqlite"`)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kb.yaml")
	cfg := Default()
	cfg.BaseDir = "/data/kb"
	cfg.Search.TopK = 9
	cfg.Index.QdrantAPIKey = "never-written"

	require.NoError(t, Save(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "never-written")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/kb", loaded.BaseDir)
	assert.Equal(t, 9, loaded.Search.TopK)
	assert.Equal(t, cfg.Search.RelatedTimeout, loaded.Search.RelatedTimeout)
}

func TestAIConfig(t *testing.T) {
	cfg := Default()
	cfg.AI.Extractor = ai.ExtractorLLM
	cfg.AI.MaxEntities = 8

	aiCfg := cfg.AIConfig()
	assert.Equal(t, ai.ExtractorLLM, aiCfg.Extractor)
	assert.Equal(t, 8, aiCfg.MaxEntities)
	assert.Equal(t, "embeddinggemma", aiCfg.EmbeddingModel)
	require.NoError(t, aiCfg.Validate())
}
