// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bizkb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/poiesic/bizkb/ai"
	"github.com/poiesic/bizkb/ai/openai"
	"github.com/poiesic/bizkb/config"
	"github.com/poiesic/bizkb/consistency"
	"github.com/poiesic/bizkb/core"
	"github.com/poiesic/bizkb/docproc"
	"github.com/poiesic/bizkb/ingestion"
	"github.com/poiesic/bizkb/metadata"
	"github.com/poiesic/bizkb/reindex"
	"github.com/poiesic/bizkb/relation"
	"github.com/poiesic/bizkb/search"
	"github.com/poiesic/bizkb/storage"
	"github.com/poiesic/bizkb/storage/badger"
	"github.com/poiesic/bizkb/storage/qdrant"
	"github.com/poiesic/bizkb/watch"
)

// indexDir is where the embedded index store lives under the base directory.
const indexDir = ".index"

// KnowledgeBase ties the metadata store, relation graph, index store,
// ingestion pipeline, sync engine and searcher to one base directory.
type KnowledgeBase struct {
	meta       *metadata.Store
	graph      *relation.Graph
	index      storage.IndexStore
	provider   ai.AIProvider
	pipeline   *ingestion.Pipeline
	engine     *consistency.Engine
	searcher   *search.Searcher
	reindexCfg *reindex.Config
	logger     *slog.Logger
}

// Option configures a KnowledgeBase.
type Option func(*options)

type options struct {
	aiConfig      *ai.Config
	provider      ai.AIProvider
	extractor     ai.EntityExtractor
	index         storage.IndexStore
	backend       string
	qdrantURL     string
	qdrantAPIKey  string
	qdrantRPS     float64
	logger        *slog.Logger
	graphOpts     []relation.Option
	ingestOpts    []ingestion.Option
	searchOpts    []search.Option
	reindexConfig *reindex.Config
}

// WithAIConfig sets the configuration used to build the AI provider.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *options) {
		o.aiConfig = cfg
	}
}

// WithProvider uses an existing AI provider instead of building one.
func WithProvider(p ai.AIProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithEntityExtractor overrides the provider's entity extractor.
func WithEntityExtractor(e ai.EntityExtractor) Option {
	return func(o *options) {
		o.extractor = e
	}
}

// WithIndexStore uses an existing index store. The knowledge base closes it.
func WithIndexStore(s storage.IndexStore) Option {
	return func(o *options) {
		o.index = s
	}
}

// WithQdrant stores vectors in a Qdrant server instead of the embedded store.
func WithQdrant(url, apiKey string, rps float64) Option {
	return func(o *options) {
		o.backend = config.BackendQdrant
		o.qdrantURL = url
		o.qdrantAPIKey = apiKey
		o.qdrantRPS = rps
	}
}

// WithLogger sets a custom logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRelationOptions passes options to the relation graph.
func WithRelationOptions(opts ...relation.Option) Option {
	return func(o *options) {
		o.graphOpts = append(o.graphOpts, opts...)
	}
}

// WithIngestionOptions passes options to the ingestion pipeline.
func WithIngestionOptions(opts ...ingestion.Option) Option {
	return func(o *options) {
		o.ingestOpts = append(o.ingestOpts, opts...)
	}
}

// WithSearchOptions passes options to the searcher.
func WithSearchOptions(opts ...search.Option) Option {
	return func(o *options) {
		o.searchOpts = append(o.searchOpts, opts...)
	}
}

// WithReindexConfig sets the retry policy of reindexers.
func WithReindexConfig(cfg *reindex.Config) Option {
	return func(o *options) {
		o.reindexConfig = cfg
	}
}

// OptionsFromConfig translates application configuration into options.
func OptionsFromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithAIConfig(cfg.AIConfig()),
		WithRelationOptions(relation.WithMaxEntities(cfg.AI.MaxEntities)),
		WithIngestionOptions(
			ingestion.WithPoolSize(cfg.Ingestion.PoolSize),
			ingestion.WithChunking(cfg.Ingestion.ChunkSentences, cfg.Ingestion.OverlapSentences),
			ingestion.WithRetry(cfg.Reindex.MaxRetries, cfg.Reindex.RetryDelay.Std()),
		),
		WithSearchOptions(
			search.WithPoolSize(cfg.Search.PoolSize),
			search.WithTopK(cfg.Search.TopK),
			search.WithMaxRelated(cfg.Search.MaxRelated),
			search.WithMinWeight(cfg.Search.MinWeight),
			search.WithRelatedTimeout(cfg.Search.RelatedTimeout.Std()),
		),
		WithReindexConfig(&reindex.Config{
			ReportInterval: 1,
			MaxRetries:     cfg.Reindex.MaxRetries,
			RetryDelay:     cfg.Reindex.RetryDelay.Std(),
		}),
	}
	if cfg.Index.Backend == config.BackendQdrant {
		opts = append(opts, WithQdrant(cfg.Index.QdrantURL, cfg.Index.QdrantAPIKey, cfg.Index.QdrantRPS))
	}
	return opts
}

// Open opens or creates a knowledge base rooted at baseDir.
func Open(baseDir string, opts ...Option) (*KnowledgeBase, error) {
	o := &options{
		aiConfig: ai.DefaultConfig(),
		backend:  config.BackendBadger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	kb := &KnowledgeBase{
		reindexCfg: o.reindexConfig,
		logger:     o.logger.With("component", "bizkb"),
	}
	ok := false
	defer func() {
		if !ok {
			kb.Close()
		}
	}()

	provider := o.provider
	if provider == nil {
		p, err := openai.NewProvider(o.aiConfig)
		if err != nil {
			return nil, err
		}
		provider = p
	}
	kb.provider = provider
	extractor := o.extractor
	if extractor == nil {
		extractor = provider.EntityExtractor()
	}

	// metadata and graph writes are serialized by one lock
	mu := &sync.Mutex{}
	meta, err := metadata.Open(baseDir, metadata.WithLock(mu), metadata.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	kb.meta = meta

	graphOpts := append([]relation.Option{
		relation.WithLock(mu),
		relation.WithExtractor(extractor),
		relation.WithLogger(o.logger),
	}, o.graphOpts...)
	graph, err := relation.Open(baseDir, graphOpts...)
	if err != nil {
		return nil, err
	}
	kb.graph = graph

	index := o.index
	if index == nil {
		index, err = openIndexStore(baseDir, provider.Embedder(), o)
		if err != nil {
			return nil, err
		}
	}
	kb.index = index

	processor, err := docproc.NewFileProcessor(docproc.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	ingestOpts := append([]ingestion.Option{ingestion.WithLogger(o.logger)}, o.ingestOpts...)
	kb.pipeline, err = ingestion.NewPipeline(meta, graph, index, processor, ingestOpts...)
	if err != nil {
		return nil, err
	}

	kb.engine, err = consistency.NewEngine(meta, index, kb.pipeline, consistency.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}

	searchOpts := append([]search.Option{search.WithLogger(o.logger)}, o.searchOpts...)
	kb.searcher, err = search.NewSearcher(meta, graph, index, searchOpts...)
	if err != nil {
		return nil, err
	}

	ok = true
	kb.logger.Info("knowledge base opened", "base_dir", baseDir, "businesses", len(meta.BusinessIDs()))
	return kb, nil
}

func openIndexStore(baseDir string, embedder ai.Embedder, o *options) (storage.IndexStore, error) {
	switch o.backend {
	case config.BackendQdrant:
		rps := o.qdrantRPS
		if rps <= 0 {
			rps = qdrant.DefaultRPS
		}
		store, err := qdrant.New(o.qdrantURL, embedder,
			qdrant.WithAPIKey(o.qdrantAPIKey),
			qdrant.WithRateLimit(rps, qdrant.DefaultBurst),
			qdrant.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendBadger:
		backend, err := badger.OpenBackend(filepath.Join(baseDir, indexDir), false, o.logger)
		if err != nil {
			return nil, err
		}
		store, err := badger.NewIndexStore(backend, embedder, badger.WithLogger(o.logger))
		if err != nil {
			backend.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", o.backend)
	}
}

// Close releases every component. The knowledge base must not be used afterwards.
func (kb *KnowledgeBase) Close() error {
	var errs []error
	if kb.searcher != nil {
		kb.searcher.Release()
	}
	if kb.pipeline != nil {
		kb.pipeline.Release()
	}
	if kb.index != nil {
		if err := kb.index.Close(); err != nil {
			kb.logger.Error("error closing index store", "err", err)
			errs = append(errs, err)
		}
	}
	if kb.provider != nil {
		if err := kb.provider.Close(); err != nil {
			kb.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateBusiness registers a business. Returns false if the ID is taken.
func (kb *KnowledgeBase) CreateBusiness(id, name, description string) (bool, error) {
	return kb.meta.CreateBusiness(id, name, description)
}

// DeleteBusiness removes a business's directory, index collection, metadata
// entry and graph node. Every step is attempted; the failures are joined.
// Returns false for an unknown business.
func (kb *KnowledgeBase) DeleteBusiness(ctx context.Context, id string) (bool, error) {
	if !kb.meta.BusinessExists(id) {
		return false, nil
	}
	var errs []error
	if err := kb.meta.RemoveBusinessFiles(id); err != nil {
		kb.logger.Warn("failed to remove business files", "business", id, "err", err)
		errs = append(errs, err)
	}
	if err := kb.index.Drop(ctx, core.CollectionName(id)); err != nil && !errors.Is(err, storage.ErrCollectionNotFound) {
		kb.logger.Warn("failed to drop business collection", "business", id, "err", err)
		errs = append(errs, err)
	}
	deleted, err := kb.meta.DeleteBusiness(id)
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := kb.graph.RemoveBusiness(id); err != nil {
		kb.logger.Warn("failed to remove business from relation graph", "business", id, "err", err)
		errs = append(errs, err)
	}
	return deleted, errors.Join(errs...)
}

// ListBusinesses returns a summary of every business.
func (kb *KnowledgeBase) ListBusinesses() []core.BusinessSummary {
	return kb.meta.ListBusinesses()
}

// BusinessInfo returns a business with its active documents.
func (kb *KnowledgeBase) BusinessInfo(id string) (*core.BusinessInfo, error) {
	return kb.meta.BusinessInfo(id)
}

// AddDocuments ingests files into a business and returns the new document IDs.
func (kb *KnowledgeBase) AddDocuments(ctx context.Context, businessID string, paths ...string) ([]string, error) {
	return kb.pipeline.Ingest(ctx, businessID, paths)
}

// RemoveDocument unregisters a document and rebuilds the business's
// collection without it. Returns false if the document is unknown.
func (kb *KnowledgeBase) RemoveDocument(ctx context.Context, businessID, docID string) (bool, error) {
	removed, err := kb.meta.RemoveDocument(businessID, docID)
	if err != nil || !removed {
		return removed, err
	}
	err = kb.pipeline.Rebuild(ctx, businessID)
	if err != nil && !errors.Is(err, ingestion.ErrNoActiveDocuments) {
		return true, fmt.Errorf("rebuilding %s: %w", businessID, err)
	}
	return true, nil
}

// Query runs a hybrid search.
func (kb *KnowledgeBase) Query(ctx context.Context, q search.Query) (*search.Result, error) {
	return kb.searcher.Search(ctx, q)
}

// SearchStatistics summarizes queries run since the knowledge base was opened.
func (kb *KnowledgeBase) SearchStatistics() search.Statistics {
	return kb.searcher.Statistics()
}

// SyncBusiness validates and repairs one business.
func (kb *KnowledgeBase) SyncBusiness(ctx context.Context, id string) core.SyncResult {
	return kb.engine.SyncBusiness(ctx, id)
}

// SyncAll validates and repairs every business.
func (kb *KnowledgeBase) SyncAll(ctx context.Context) core.SyncReport {
	return kb.engine.SyncAll(ctx)
}

// SyncStatus reports on a business without repairing anything.
func (kb *KnowledgeBase) SyncStatus(ctx context.Context, id string) core.SyncResult {
	return kb.engine.Status(ctx, id)
}

// Related returns the businesses related to id, strongest first.
func (kb *KnowledgeBase) Related(id string, maxCount int) []core.Relation {
	return kb.graph.Related(id, maxCount)
}

// Link records a manual relation between two businesses.
func (kb *KnowledgeBase) Link(a, b string, weight float64) error {
	for _, id := range []string{a, b} {
		if !kb.meta.BusinessExists(id) {
			return fmt.Errorf("%w: %s", core.ErrBusinessNotFound, id)
		}
	}
	return kb.graph.AddRelation(a, b, core.RelationManual, weight, nil)
}

// GraphStats summarizes the relation graph.
func (kb *KnowledgeBase) GraphStats() relation.Stats {
	return kb.graph.Stats()
}

// NewReindexer returns a reindexer over every business, reporting progress to w.
func (kb *KnowledgeBase) NewReindexer(w io.Writer) (*reindex.Reindexer, error) {
	return reindex.NewReindexer(kb.meta, kb.pipeline, kb.reindexCfg, w, kb.logger)
}

// NewWatcher returns a watcher that syncs businesses when their documents change.
func (kb *KnowledgeBase) NewWatcher(opts ...watch.Option) (*watch.Watcher, error) {
	return watch.NewWatcher(kb.meta, kb.engine, append([]watch.Option{watch.WithLogger(kb.logger)}, opts...)...)
}
