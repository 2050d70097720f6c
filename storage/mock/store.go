// Package mock provides an in-memory storage.IndexStore for tests.
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/poiesic/bizkb/storage"
)

// MockIndexStore keeps collections in memory and scores hits by word
// overlap with the query. Errors can be injected per collection and
// every method can be overridden with an XxxFunc field.
type MockIndexStore struct {
	// SearchFunc is called by Search if set.
	SearchFunc func(ctx context.Context, name, query string, topK int) ([]storage.Hit, error)

	// StatsFunc is called by Stats if set.
	StatsFunc func(ctx context.Context, name string) (storage.CollectionStats, error)

	mu          sync.Mutex
	collections map[string]map[int64]storage.Row
	searchErrs  map[string]error
	upsertErrs  map[string]error
	statsErrs   map[string]error

	searchCount atomic.Int64
	upsertCount atomic.Int64
	dropCount   atomic.Int64
}

var _ storage.IndexStore = (*MockIndexStore)(nil)

// NewMockIndexStore creates an empty store.
func NewMockIndexStore() *MockIndexStore {
	return &MockIndexStore{
		collections: make(map[string]map[int64]storage.Row),
		searchErrs:  make(map[string]error),
		upsertErrs:  make(map[string]error),
		statsErrs:   make(map[string]error),
	}
}

// FailSearch makes Search on the collection return err. A nil err clears it.
func (m *MockIndexStore) FailSearch(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErrs[name] = err
}

// FailUpsert makes CreateAndUpsert on the collection return err.
func (m *MockIndexStore) FailUpsert(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErrs[name] = err
}

// FailStats makes Stats and CollectionExists on the collection return err.
func (m *MockIndexStore) FailStats(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsErrs[name] = err
}

func (m *MockIndexStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.statsErrs[name]; err != nil {
		return false, err
	}
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MockIndexStore) Stats(ctx context.Context, name string) (storage.CollectionStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.statsErrs[name]; err != nil {
		return storage.CollectionStats{}, err
	}
	rows, ok := m.collections[name]
	if !ok {
		return storage.CollectionStats{}, storage.ErrCollectionNotFound
	}
	return storage.CollectionStats{RowCount: int64(len(rows)), Dimension: 1}, nil
}

func (m *MockIndexStore) CreateAndUpsert(ctx context.Context, name string, rows []storage.Row) error {
	m.upsertCount.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.upsertErrs[name]; err != nil {
		return err
	}
	coll, ok := m.collections[name]
	if !ok {
		coll = make(map[int64]storage.Row)
		m.collections[name] = coll
	}
	for _, r := range rows {
		coll[r.PK] = r
	}
	return nil
}

func (m *MockIndexStore) Search(ctx context.Context, name, query string, topK int) ([]storage.Hit, error) {
	m.searchCount.Add(1)
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, name, query, topK)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.searchErrs[name]; err != nil {
		return nil, err
	}
	coll, ok := m.collections[name]
	if !ok {
		return nil, storage.ErrCollectionNotFound
	}

	terms := strings.Fields(strings.ToLower(query))
	var hits []storage.Hit
	for _, r := range coll {
		score := overlap(terms, strings.ToLower(r.Text))
		if score == 0 {
			continue
		}
		hits = append(hits, storage.Hit{PK: r.PK, Text: r.Text, DocID: r.DocID, Score: score})
	}
	slices.SortFunc(hits, func(a, b storage.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return int(a.PK - b.PK)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// overlap is the fraction of query terms contained in text.
func overlap(terms []string, text string) float32 {
	if len(terms) == 0 {
		return 0
	}
	n := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			n++
		}
	}
	return float32(n) / float32(len(terms))
}

func (m *MockIndexStore) Drop(ctx context.Context, name string) error {
	m.dropCount.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MockIndexStore) Close() error {
	return nil
}

// Rows returns a copy of a collection's rows ordered by PK.
func (m *MockIndexStore) Rows(name string) []storage.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]storage.Row, 0, len(m.collections[name]))
	for _, r := range m.collections[name] {
		rows = append(rows, r)
	}
	slices.SortFunc(rows, func(a, b storage.Row) int { return int(a.PK - b.PK) })
	return rows
}

func (m *MockIndexStore) SearchCount() int { return int(m.searchCount.Load()) }
func (m *MockIndexStore) UpsertCount() int { return int(m.upsertCount.Load()) }
func (m *MockIndexStore) DropCount() int   { return int(m.dropCount.Load()) }
