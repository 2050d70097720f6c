// Package config loads kbctl configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/poiesic/bizkb/ai"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file name looked up when none is given.
const DefaultFile = "bizkb.yaml"

// Index backends.
const (
	BackendBadger = "badger"
	BackendQdrant = "qdrant"
)

// Config holds all configuration for a knowledge base.
// Environment variables always override YAML values.
type Config struct {
	// BaseDir holds metadata, the relation graph, documents and the local index.
	BaseDir string `yaml:"base_dir" env:"BIZKB_BASE_DIR" env-default:"./knowledge_base"`

	Index     IndexConfig     `yaml:"index"`
	AI        AIConfig        `yaml:"ai"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Reindex   ReindexConfig   `yaml:"reindex"`
}

// IndexConfig selects and configures the index store.
type IndexConfig struct {
	// Backend is "badger" (embedded, under BaseDir) or "qdrant".
	Backend string `yaml:"backend" env:"BIZKB_INDEX_BACKEND" env-default:"badger"`

	QdrantURL    string  `yaml:"qdrant_url" env:"BIZKB_QDRANT_URL" env-default:"http://localhost:6333"`
	QdrantAPIKey string  `yaml:"-" env:"BIZKB_QDRANT_API_KEY"` // Secret - not in YAML
	QdrantRPS    float64 `yaml:"qdrant_rps" env:"BIZKB_QDRANT_RPS" env-default:"20"`
}

// AIConfig configures embedding and entity extraction.
type AIConfig struct {
	EmbeddingHost   string `yaml:"embedding_host" env:"BIZKB_EMBEDDING_HOST" env-default:"http://localhost:11434/v1"`
	EmbeddingModel  string `yaml:"embedding_model" env:"BIZKB_EMBEDDING_MODEL" env-default:"embeddinggemma"`
	ClassifierHost  string `yaml:"classifier_host" env:"BIZKB_CLASSIFIER_HOST" env-default:"http://localhost:11434/v1"`
	ClassifierModel string `yaml:"classifier_model" env:"BIZKB_CLASSIFIER_MODEL" env-default:"qwen2.5:3b"`
	APIKey          string `yaml:"-" env:"BIZKB_AI_API_KEY" env-default:"none"` // Secret - not in YAML

	// Extractor is "rules" or "llm".
	Extractor   string `yaml:"extractor" env:"BIZKB_EXTRACTOR" env-default:"rules"`
	MaxEntities int    `yaml:"max_entities" env:"BIZKB_MAX_ENTITIES" env-default:"15"`
}

// SearchConfig holds the hybrid search tunables.
type SearchConfig struct {
	TopK           int      `yaml:"top_k" env:"BIZKB_TOP_K" env-default:"3"`
	MaxRelated     int      `yaml:"max_related" env:"BIZKB_MAX_RELATED" env-default:"2"`
	MinWeight      float64  `yaml:"min_weight" env:"BIZKB_MIN_WEIGHT" env-default:"0"`
	RelatedTimeout Duration `yaml:"related_timeout" env:"BIZKB_RELATED_TIMEOUT" env-default:"10s"`
	PoolSize       int      `yaml:"pool_size" env:"BIZKB_SEARCH_POOL_SIZE" env-default:"4"`
}

// IngestionConfig holds document processing tunables.
type IngestionConfig struct {
	ChunkSentences   int `yaml:"chunk_sentences" env:"BIZKB_CHUNK_SENTENCES" env-default:"5"`
	OverlapSentences int `yaml:"overlap_sentences" env:"BIZKB_OVERLAP_SENTENCES" env-default:"1"`
	PoolSize         int `yaml:"pool_size" env:"BIZKB_INGEST_POOL_SIZE" env-default:"4"`
}

// ReindexConfig holds retry tunables for rebuilds.
type ReindexConfig struct {
	MaxRetries int      `yaml:"max_retries" env:"BIZKB_REINDEX_MAX_RETRIES" env-default:"3"`
	RetryDelay Duration `yaml:"retry_delay" env:"BIZKB_REINDEX_RETRY_DELAY" env-default:"1s"`
}

// Load reads path with environment overrides. A missing file is not an
// error; defaults and the environment are used instead. An empty path
// means DefaultFile.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}
	cfg := &Config{}
	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case errors.Is(statErr, os.ErrNotExist):
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	default:
		return nil, statErr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	// env-default tags are the single source of defaults
	_ = cleanenv.ReadEnv(cfg)
	return cfg
}

// Save writes cfg to path as YAML. Secret fields are never written.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is required"))
	}
	switch c.Index.Backend {
	case BackendBadger:
	case BackendQdrant:
		if c.Index.QdrantURL == "" {
			errs = append(errs, errors.New("index.qdrant_url is required for the qdrant backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown index backend %q", c.Index.Backend))
	}
	if c.Search.TopK < 1 {
		errs = append(errs, errors.New("search.top_k must be positive"))
	}
	if c.Search.MaxRelated < 0 {
		errs = append(errs, errors.New("search.max_related cannot be negative"))
	}
	if c.Search.MinWeight < 0 {
		errs = append(errs, errors.New("search.min_weight cannot be negative"))
	}
	if c.Search.RelatedTimeout <= 0 {
		errs = append(errs, errors.New("search.related_timeout must be positive"))
	}
	if c.Ingestion.ChunkSentences < 1 {
		errs = append(errs, errors.New("ingestion.chunk_sentences must be positive"))
	}
	if c.Reindex.MaxRetries < 1 {
		errs = append(errs, errors.New("reindex.max_retries must be positive"))
	}
	return errors.Join(errs...)
}

// AIConfig converts the AI section to an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithClassifierHost(c.AI.ClassifierHost),
		ai.WithClassifierModel(c.AI.ClassifierModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithExtractor(c.AI.Extractor),
		ai.WithMaxEntities(c.AI.MaxEntities),
	)
}
