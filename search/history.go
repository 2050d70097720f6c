package search

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

const (
	historyLimit  = 1000
	historyRetain = 500

	topBusinesses = 5
	topQueries    = 10
	recentQueries = 10
)

// HistoryEntry is one recorded query.
type HistoryEntry struct {
	BusinessID string
	Query      string
	Timestamp  time.Time
}

// Count is a key with its number of occurrences.
type Count struct {
	Key   string
	Count int
}

// Statistics summarizes recorded queries.
type Statistics struct {
	TotalSearches  int
	TopBusinesses  []Count
	TopQueries     []Count
	RecentSearches []HistoryEntry
}

// history is a bounded in-memory query log. Once it grows past
// historyLimit entries it is cut back to the newest historyRetain.
type history struct {
	mu      sync.Mutex
	entries []HistoryEntry
	now     func() time.Time
}

func newHistory(now func() time.Time) *history {
	return &history{now: now}
}

func (h *history) record(businessID, query string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, HistoryEntry{
		BusinessID: businessID,
		Query:      query,
		Timestamp:  h.now().UTC(),
	})
	if len(h.entries) > historyLimit {
		h.entries = slices.Clone(h.entries[len(h.entries)-historyRetain:])
	}
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func (h *history) statistics() Statistics {
	h.mu.Lock()
	defer h.mu.Unlock()

	businesses := make(map[string]int)
	queries := make(map[string]int)
	for _, e := range h.entries {
		businesses[e.BusinessID]++
		queries[normalizeQuery(e.Query)]++
	}
	recent := h.entries[max(0, len(h.entries)-recentQueries):]
	return Statistics{
		TotalSearches:  len(h.entries),
		TopBusinesses:  mostCommon(businesses, topBusinesses),
		TopQueries:     mostCommon(queries, topQueries),
		RecentSearches: slices.Clone(recent),
	}
}

func mostCommon(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for k, c := range counts {
		out = append(out, Count{Key: k, Count: c})
	}
	slices.SortFunc(out, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
