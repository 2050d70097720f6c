package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/bizkb/core"
	"github.com/poiesic/bizkb/docproc"
	"github.com/poiesic/bizkb/metadata"
	"github.com/poiesic/bizkb/relation"
	"github.com/poiesic/bizkb/storage"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 500 * time.Millisecond
)

// Pipeline orchestrates ingestion and re-indexing of business documents.
type Pipeline struct {
	meta        *metadata.Store
	graph       *relation.Graph
	index       storage.IndexStore
	processor   docproc.Processor
	pool        *ants.Pool
	chunker     *SentenceChunker
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger

	// writeMu serializes pk assignment with the upsert that uses it.
	writeMu   sync.Mutex
	// rebuildMu is held shared by Ingest and exclusively by Rebuild, so a
	// rebuild never drops rows appended after it listed the active documents.
	rebuildMu sync.RWMutex
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent processing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithChunking sets sentences per chunk and overlapping sentences.
func WithChunking(sentencesPerChunk, overlapSentences int) Option {
	return func(p *Pipeline) error {
		p.chunker = NewSentenceChunker(sentencesPerChunk, overlapSentences)
		return nil
	}
}

// WithRetry sets how index-store writes are retried.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		p.maxAttempts = maxAttempts
		p.retryDelay = baseDelay
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	meta *metadata.Store,
	graph *relation.Graph,
	index storage.IndexStore,
	processor docproc.Processor,
	opts ...Option,
) (*Pipeline, error) {
	if meta == nil {
		return nil, ErrMetadataRequired
	}
	if graph == nil {
		return nil, ErrGraphRequired
	}
	if index == nil {
		return nil, ErrIndexStoreRequired
	}
	if processor == nil {
		return nil, ErrProcessorRequired
	}

	poolSize := max(runtime.NumCPU()/2, 1)
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		meta:        meta,
		graph:       graph,
		index:       index,
		processor:   processor,
		pool:        pool,
		chunker:     NewSentenceChunker(DefaultSentencesPerChunk, DefaultOverlapSentences),
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	return p, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Ingest adds files to a business. Each file is processed, linked into the
// relation graph, registered and indexed. Returns the IDs of the documents
// that were added, in input order, and the joined per-file errors.
// A document whose chunks could not be indexed is unregistered again.
func (p *Pipeline) Ingest(ctx context.Context, businessID string, paths []string) ([]string, error) {
	if !p.meta.BusinessExists(businessID) {
		return nil, fmt.Errorf("%w: %s", core.ErrBusinessNotFound, businessID)
	}

	// Taken here rather than in the workers so pool tasks never wait on it.
	p.rebuildMu.RLock()
	defer p.rebuildMu.RUnlock()

	docIDs := make([]string, len(paths))
	errs := make([]error, len(paths))
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			docID, err := p.ingestFile(ctx, businessID, path)
			if err != nil {
				p.logger.Error("failed to ingest file", "business", businessID, "file", path, "err", err)
				errs[i] = fmt.Errorf("%s: %w", path, err)
				return
			}
			docIDs[i] = docID
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("%s: %w", path, err)
		}
	}
	wg.Wait()

	added := make([]string, 0, len(paths))
	for _, id := range docIDs {
		if id != "" {
			added = append(added, id)
		}
	}
	p.logger.Info("ingestion finished", "business", businessID, "files", len(paths), "added", len(added))
	return added, errors.Join(errs...)
}

func (p *Pipeline) ingestFile(ctx context.Context, businessID, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, _, err := p.processor.Process(ctx, path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}

	entities, err := p.graph.ExtractEntities(ctx, text)
	if err != nil {
		// Relations are an enrichment; the document is still searchable.
		p.logger.Warn("entity extraction failed", "business", businessID, "file", path, "err", err)
	}

	docID, err := p.meta.AddDocument(businessID, path, text, entities)
	if err != nil {
		return "", err
	}

	if err := p.appendChunks(ctx, businessID, docID, text); err != nil {
		// Unregister so the file can be added again once the index is back.
		if _, rerr := p.meta.RemoveDocument(businessID, docID); rerr != nil {
			p.logger.Warn("failed to unregister unindexed document", "business", businessID, "document", docID, "err", rerr)
		}
		return "", fmt.Errorf("indexing %s: %w", docID, err)
	}

	// Entities join the graph only once the document is registered and indexed.
	if err := p.graph.LinkEntities(businessID, entities); err != nil {
		p.logger.Warn("failed to link entities", "business", businessID, "document", docID, "err", err)
	}
	return docID, nil
}

// appendChunks upserts a document's chunks with pks continuing after the
// collection's current row count.
func (p *Pipeline) appendChunks(ctx context.Context, businessID, docID, text string) error {
	chunks := p.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil
	}
	collection := core.CollectionName(businessID)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var next int64 = 1
	stats, err := p.index.Stats(ctx, collection)
	switch {
	case err == nil:
		next = stats.RowCount + 1
	case !errors.Is(err, storage.ErrCollectionNotFound):
		return err
	}

	rows := make([]storage.Row, len(chunks))
	for i, chunk := range chunks {
		rows[i] = storage.Row{PK: next + int64(i), Text: chunk, DocID: docID}
	}
	return p.upsert(ctx, collection, rows)
}

func (p *Pipeline) upsert(ctx context.Context, collection string, rows []storage.Row) error {
	return RetryWithBackoff(ctx, func() error {
		return p.index.CreateAndUpsert(ctx, collection, rows)
	}, p.maxAttempts, p.retryDelay)
}

// Rebuild drops the business's collection and re-indexes every active
// document with pks 1..N. Documents that can no longer be processed are
// marked corrupted. Returns ErrNoActiveDocuments when nothing is left to
// index.
func (p *Pipeline) Rebuild(ctx context.Context, businessID string) error {
	if !p.meta.BusinessExists(businessID) {
		return fmt.Errorf("%w: %s", core.ErrBusinessNotFound, businessID)
	}
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()

	collection := core.CollectionName(businessID)
	docs := p.meta.GetActiveDocuments(businessID)

	texts := make([]string, len(docs))
	failed := make([]error, len(docs))
	var wg sync.WaitGroup
	for i, doc := range docs {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			texts[i], _, failed[i] = p.processor.Process(ctx, doc.KBPath)
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			failed[i] = err
		}
	}
	wg.Wait()

	var rows []storage.Row
	var pk int64 = 1
	indexed := make([]string, 0, len(docs))
	for i, doc := range docs {
		if failed[i] != nil {
			p.logger.Warn("document could not be processed, marking corrupted",
				"business", businessID, "document", doc.ID, "err", failed[i])
			if err := p.meta.SetStatus(businessID, doc.ID, core.DocStatusCorrupted); err != nil {
				p.logger.Warn("failed to mark document corrupted", "document", doc.ID, "err", err)
			}
			continue
		}
		for _, chunk := range p.chunker.Chunk(texts[i]) {
			rows = append(rows, storage.Row{PK: pk, Text: chunk, DocID: doc.ID})
			pk++
		}
		indexed = append(indexed, doc.ID)
	}

	err := RetryWithBackoff(ctx, func() error {
		return p.index.Drop(ctx, collection)
	}, p.maxAttempts, p.retryDelay)
	if err != nil {
		return fmt.Errorf("dropping %s: %w", collection, err)
	}
	if len(indexed) == 0 {
		if err := p.meta.Save(); err != nil {
			return err
		}
		return ErrNoActiveDocuments
	}
	if err := p.upsert(ctx, collection, rows); err != nil {
		return fmt.Errorf("indexing %s: %w", collection, err)
	}
	for _, id := range indexed {
		if err := p.meta.ClearReprocessing(businessID, id); err != nil {
			p.logger.Warn("failed to clear reprocessing flag", "document", id, "err", err)
		}
	}
	if err := p.meta.Save(); err != nil {
		return err
	}

	p.logger.Info("collection rebuilt", "business", businessID, "documents", len(indexed), "rows", len(rows))
	return nil
}
