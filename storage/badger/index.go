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

package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/bizkb/ai"
	"github.com/poiesic/bizkb/storage"
)

const (
	defaultWriteBatchSize = 256
	defaultEmbedBatchSize = 64
)

// IndexStore implements storage.IndexStore on top of BadgerDB.
// Search is an exact cosine scan over the collection, which is
// adequate for per-business collections of a few thousand chunks.
type IndexStore struct {
	backend   *Backend
	embedder  ai.Embedder
	logger    *slog.Logger
	batchSize int
	now       func() time.Time

	// writeMu serializes the dimension check with the writes that follow it.
	writeMu sync.Mutex
}

var _ storage.IndexStore = (*IndexStore)(nil)

// Option configures an IndexStore.
type Option func(*IndexStore) error

// WithLogger sets the logger. A nil logger uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *IndexStore) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithBatchSize sets how many rows are written per transaction.
func WithBatchSize(n int) Option {
	return func(s *IndexStore) error {
		if n <= 0 {
			return errors.New("batch size must be positive")
		}
		s.batchSize = n
		return nil
	}
}

// NewIndexStore creates an index store over backend. The store takes
// ownership of the backend and closes it on Close.
func NewIndexStore(backend *Backend, embedder ai.Embedder, opts ...Option) (*IndexStore, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	s := &IndexStore{
		backend:   backend,
		embedder:  embedder,
		logger:    slog.Default(),
		batchSize: defaultWriteBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "badger-index")
	return s, nil
}

// Close closes the underlying backend.
func (s *IndexStore) Close() error {
	if s.backend.IsClosed() {
		return nil
	}
	return s.backend.Close()
}

func (s *IndexStore) checkOpen(name string) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	if name == "" || strings.Contains(name, ":") {
		return fmt.Errorf("%w: collection name %q", storage.ErrInvalidQuery, name)
	}
	return nil
}

// loadMeta returns nil, nil when the collection does not exist.
func loadMeta(tx *badger.Txn, name string) (*collectionMeta, error) {
	item, err := tx.Get(makeCollectionMetaKey(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var meta *collectionMeta
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		meta, unmarshalErr = unmarshalMeta(val)
		return unmarshalErr
	})
	return meta, err
}

// CollectionExists reports whether a collection has been created.
func (s *IndexStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := s.checkOpen(name); err != nil {
		return false, err
	}
	var exists bool
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		meta, err := loadMeta(tx, name)
		exists = meta != nil
		return err
	}, false)
	return exists, err
}

// Stats counts the rows of a collection with a key-only scan.
func (s *IndexStore) Stats(ctx context.Context, name string) (storage.CollectionStats, error) {
	var stats storage.CollectionStats
	if err := s.checkOpen(name); err != nil {
		return stats, err
	}
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		meta, err := loadMeta(tx, name)
		if err != nil {
			return err
		}
		if meta == nil {
			return storage.ErrCollectionNotFound
		}
		stats.Dimension = meta.Dimension

		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeRowPrefix(name)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			stats.RowCount++
		}
		return nil
	}, false)
	return stats, err
}

// CreateAndUpsert embeds rows and writes them in batches.
func (s *IndexStore) CreateAndUpsert(ctx context.Context, name string, rows []storage.Row) error {
	if err := s.checkOpen(name); err != nil {
		return err
	}

	vectors, err := s.embed(ctx, rows)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Create the collection or verify the dimension matches.
	err = s.backend.WithTx(func(tx *badger.Txn) error {
		meta, err := loadMeta(tx, name)
		if err != nil {
			return err
		}
		dim := 0
		if len(vectors) > 0 {
			dim = len(vectors[0])
		}
		if meta != nil {
			if dim > 0 && meta.Dimension > 0 && meta.Dimension != dim {
				return fmt.Errorf("%w: collection %s has %d, got %d",
					storage.ErrDimensionMismatch, name, meta.Dimension, dim)
			}
			if meta.Dimension > 0 || dim == 0 {
				return nil
			}
		} else {
			meta = &collectionMeta{CreatedAt: s.now().UTC()}
		}
		meta.Dimension = dim
		bs, err := marshalMeta(meta)
		if err != nil {
			return err
		}
		if err := tx.Set(makeCollectionMetaKey(name), bs); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	for start := 0; start < len(rows); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+s.batchSize, len(rows))
		err := s.backend.WithTx(func(tx *badger.Txn) error {
			for i := start; i < end; i++ {
				if len(vectors[i]) != len(vectors[0]) {
					return fmt.Errorf("%w: row %d", storage.ErrDimensionMismatch, rows[i].PK)
				}
				bs, err := marshalRow(&rowRecord{
					PK:     rows[i].PK,
					Text:   rows[i].Text,
					DocID:  rows[i].DocID,
					Vector: vectors[i],
				})
				if err != nil {
					return err
				}
				if err := tx.Set(makeRowKey(name, rows[i].PK), bs); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return fmt.Errorf("upsert into %s: %w", name, err)
		}
	}

	s.logger.Debug("rows upserted", "collection", name, "rows", len(rows))
	return nil
}

func (s *IndexStore) embed(ctx context.Context, rows []storage.Row) ([][]float32, error) {
	vectors := make([][]float32, 0, len(rows))
	for start := 0; start < len(rows); start += defaultEmbedBatchSize {
		end := min(start+defaultEmbedBatchSize, len(rows))
		texts := make([]string, 0, end-start)
		for _, r := range rows[start:end] {
			texts = append(texts, r.Text)
		}
		batch, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed rows: %w", err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embed rows: got %d vectors for %d texts", len(batch), len(texts))
		}
		for _, v := range batch {
			vectors = append(vectors, normalize(v))
		}
	}
	return vectors, nil
}

// Search scores every row of the collection against the query.
func (s *IndexStore) Search(ctx context.Context, name string, query string, topK int) ([]storage.Hit, error) {
	if err := s.checkOpen(name); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}

	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, storage.ErrCollectionNotFound
	}

	qv, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	qv = normalize(qv)

	var hits []storage.Hit
	err = s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeRowPrefix(name)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var row *rowRecord
			err := iter.Item().Value(func(val []byte) error {
				var err error
				row, err = unmarshalRow(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(row.Vector) == 0 {
				continue
			}
			hits = append(hits, storage.Hit{
				PK:    row.PK,
				Text:  row.Text,
				DocID: row.DocID,
				Score: dotProduct(qv, row.Vector),
			})
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending, pk ascending for stable ties
	slices.SortFunc(hits, func(a, b storage.Hit) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		if a.PK < b.PK {
			return -1
		}
		if a.PK > b.PK {
			return 1
		}
		return 0
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Drop removes the collection's rows and metadata.
func (s *IndexStore) Drop(ctx context.Context, name string) error {
	if err := s.checkOpen(name); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.backend.DropPrefix(makeRowPrefix(name)); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	// The record key has no terminator, so it is deleted exactly rather than
	// by prefix.
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeCollectionMetaKey(name)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	s.logger.Debug("collection dropped", "collection", name)
	return nil
}

// normalize scales v to unit length so dot product equals cosine similarity.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * norm
	}
	return out
}
