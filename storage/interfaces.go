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

package storage

import "context"

// Row is one chunk of document text destined for a collection.
// The index store owns embedding: callers pass text, not vectors.
type Row struct {
	PK    int64
	Text  string
	DocID string
}

// Hit is a search result from a single collection.
type Hit struct {
	PK    int64
	Text  string
	DocID string
	Score float32
}

// CollectionStats describes the current contents of a collection.
type CollectionStats struct {
	RowCount  int64
	Dimension int
}

// IndexStore is a vector index partitioned into named collections.
// Implementations must be thread-safe and support concurrent access.
type IndexStore interface {
	// CollectionExists reports whether a collection has been created.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// Stats returns row count and vector dimension of a collection.
	// Returns ErrCollectionNotFound if the collection does not exist.
	Stats(ctx context.Context, name string) (CollectionStats, error)

	// CreateAndUpsert embeds the rows and writes them to the collection,
	// creating it first if needed. Rows with an existing PK are replaced.
	CreateAndUpsert(ctx context.Context, name string, rows []Row) error

	// Search embeds query and returns the topK most similar rows,
	// highest score first. Returns ErrCollectionNotFound if the collection
	// does not exist.
	Search(ctx context.Context, name string, query string, topK int) ([]Hit, error)

	// Drop removes a collection and all its rows. Dropping a missing
	// collection is not an error.
	Drop(ctx context.Context, name string) error

	// Close releases resources held by the store.
	Close() error
}
