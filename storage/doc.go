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

// Package storage defines the index store abstraction used by bizkb.
//
// Every business owns one collection named business_<id> (see
// core.CollectionName). Collections hold text chunks keyed by a
// monotonically assigned primary key together with the ID of the
// document they were cut from. Embedding happens inside the store so
// that ingestion and search code deal only with text.
//
// # Implementations
//
//   - storage/badger: embedded BadgerDB store, exact cosine scan
//   - storage/qdrant: Qdrant REST client with client-side rate limiting
//   - storage/mock: in-memory fake with error injection for tests
//
// # Error Handling
//
// Operations on a collection that does not exist return
// ErrCollectionNotFound, except Drop which is idempotent. Operations
// after Close return ErrStorageClosed.
package storage
