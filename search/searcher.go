package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/bizkb/core"
	"github.com/poiesic/bizkb/metadata"
	"github.com/poiesic/bizkb/relation"
	"github.com/poiesic/bizkb/storage"
)

const (
	DefaultTopK           = 3
	DefaultMaxRelated     = 2
	DefaultRelatedTimeout = 10 * time.Second
	defaultPoolSize       = 4
)

// Mode selects how results are presented.
type Mode string

const (
	// ModeCompact merges every business's hits into one ranked list.
	ModeCompact Mode = "compact"
	// ModeDetailed keeps one section per business.
	ModeDetailed Mode = "detailed"
)

// ParseMode maps a mode name to a Mode. Names without distinct behaviour,
// such as tree_summarize and refine, are compact.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeDetailed)) {
		return ModeDetailed
	}
	return ModeCompact
}

// Query is a search request against a primary business.
type Query struct {
	BusinessID      string
	Text            string
	ExpandToRelated bool
	// MaxRelated caps how many related businesses are searched.
	// Zero uses the searcher's default.
	MaxRelated int
	// TopK is the number of hits requested per business.
	// Zero uses the searcher's default.
	TopK int
	Mode Mode
}

// Section is the part of a detailed result that came from one business.
type Section struct {
	BusinessID     string
	BusinessName   string
	Primary        bool
	RelationWeight float64
	SharedEntities []string
	Nodes          []core.SearchNode
	Response       string
}

// Result is the answer to a Query. Empty marks a "no data" answer, which
// is a valid result rather than an error.
type Result struct {
	Query    Query
	Response string
	Empty    bool
	// Nodes holds every hit ranked by RankScore.
	Nodes []core.SearchNode
	// Sections is filled in detailed mode, primary business first.
	Sections []Section
	// Related lists the related businesses that were searched successfully.
	Related []string
	// Failed lists related businesses whose search failed or timed out.
	Failed []string
}

// Searcher runs hybrid cross-business queries.
type Searcher struct {
	meta           *metadata.Store
	graph          *relation.Graph
	index          storage.IndexStore
	pool           *ants.Pool
	topK           int
	maxRelated     int
	minWeight      float64
	relatedTimeout time.Duration
	monitor        SearchMonitor
	history        *history
	logger         *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithPoolSize sets how many related businesses are searched at once.
func WithPoolSize(size int) Option {
	return func(s *Searcher) error {
		if size < 1 {
			size = 1
		}
		if s.pool != nil {
			s.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		s.pool = pool
		return nil
	}
}

// WithTopK sets the default number of hits per business.
func WithTopK(k int) Option {
	return func(s *Searcher) error {
		if k < 1 {
			return errors.New("top-k must be positive")
		}
		s.topK = k
		return nil
	}
}

// WithMaxRelated sets the default number of related businesses searched.
func WithMaxRelated(n int) Option {
	return func(s *Searcher) error {
		if n < 0 {
			return errors.New("max related cannot be negative")
		}
		s.maxRelated = n
		return nil
	}
}

// WithMinWeight ignores relations weaker than w.
func WithMinWeight(w float64) Option {
	return func(s *Searcher) error {
		if w < 0 {
			return errors.New("min weight cannot be negative")
		}
		s.minWeight = w
		return nil
	}
}

// WithRelatedTimeout sets the deadline shared by all related searches of a query.
func WithRelatedTimeout(d time.Duration) Option {
	return func(s *Searcher) error {
		if d <= 0 {
			return errors.New("related timeout must be positive")
		}
		s.relatedTimeout = d
		return nil
	}
}

// WithMonitor sets the default monitor for Search.
func WithMonitor(m SearchMonitor) Option {
	return func(s *Searcher) error {
		if m == nil {
			m = &noopMonitor{}
		}
		s.monitor = m
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(meta *metadata.Store, graph *relation.Graph, index storage.IndexStore, opts ...Option) (*Searcher, error) {
	if meta == nil {
		return nil, ErrMetadataRequired
	}
	if graph == nil {
		return nil, ErrGraphRequired
	}
	if index == nil {
		return nil, ErrIndexStoreRequired
	}
	pool, err := ants.NewPool(defaultPoolSize)
	if err != nil {
		return nil, err
	}
	s := &Searcher{
		meta:           meta,
		graph:          graph,
		index:          index,
		pool:           pool,
		topK:           DefaultTopK,
		maxRelated:     DefaultMaxRelated,
		relatedTimeout: DefaultRelatedTimeout,
		monitor:        &noopMonitor{},
		history:        newHistory(time.Now),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			s.Release()
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "search")
	return s, nil
}

// Release releases the worker pool.
func (s *Searcher) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Search runs q with the searcher's default monitor.
func (s *Searcher) Search(ctx context.Context, q Query) (*Result, error) {
	return s.SearchWithMonitor(ctx, q, s.monitor)
}

// SearchWithMonitor runs q, reporting each stage to monitor.
// Returns core.ErrBusinessNotFound for an unknown primary business and
// core.ErrEmptyQuery for blank text. Failures of related businesses never
// fail the query.
func (s *Searcher) SearchWithMonitor(ctx context.Context, q Query, monitor SearchMonitor) (*Result, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, core.ErrEmptyQuery
	}
	primaryName, ok := s.meta.BusinessName(q.BusinessID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBusinessNotFound, q.BusinessID)
	}
	if q.TopK <= 0 {
		q.TopK = s.topK
	}
	if q.MaxRelated <= 0 {
		q.MaxRelated = s.maxRelated
	}
	if q.Mode != ModeDetailed {
		q.Mode = ModeCompact
	}

	monitor.Start(q)
	s.history.record(q.BusinessID, q.Text)
	result := &Result{Query: q}

	// SearchPrimary
	primary, hasData, err := s.searchBusiness(ctx, q.BusinessID, primaryName, q.Text, q.TopK, 0)
	if err != nil {
		s.logger.Error("primary search failed", "business", q.BusinessID, "err", err)
		return nil, fmt.Errorf("searching %s: %w", q.BusinessID, err)
	}
	if !hasData {
		monitor.NoData(q.BusinessID)
		result.Empty = true
		result.Response = noDataResponse(primaryName)
		monitor.Finish(result)
		return result, nil
	}
	monitor.AfterPrimarySearch(q.BusinessID, primary)

	sections := []Section{{
		BusinessID:   q.BusinessID,
		BusinessName: primaryName,
		Primary:      true,
		Nodes:        primary,
	}}

	// DiscoverRelated
	var relations []core.Relation
	if q.ExpandToRelated && q.MaxRelated > 0 {
		for _, rel := range s.graph.Related(q.BusinessID, 0) {
			if rel.Weight < s.minWeight || !s.meta.BusinessExists(rel.To) {
				continue
			}
			relations = append(relations, rel)
			if len(relations) == q.MaxRelated {
				break
			}
		}
		monitor.DiscoveredRelated(relations)
	}

	// SearchRelated
	if len(relations) > 0 {
		related := s.searchRelated(ctx, q, relations, monitor)
		used := make(map[string]int)
		for i, sec := range related {
			if sec == nil {
				result.Failed = append(result.Failed, relations[i].To)
				continue
			}
			result.Related = append(result.Related, sec.BusinessID)
			sections = append(sections, *sec)
			if len(sec.Nodes) > 0 {
				used[sec.BusinessID] = len(sec.Nodes)
			}
		}

		// RecordUsage
		if len(used) > 0 {
			if err := s.graph.RecordQueryUsage(q.BusinessID, used); err != nil {
				s.logger.Warn("failed to record query usage", "business", q.BusinessID, "err", err)
			} else {
				monitor.UsageRecorded(used)
			}
		}
	}

	// Merge
	for _, sec := range sections {
		result.Nodes = append(result.Nodes, sec.Nodes...)
	}
	rankNodes(result.Nodes)
	monitor.AfterMerge(result.Nodes)

	result.Empty = len(result.Nodes) == 0
	switch {
	case result.Empty:
		result.Response = noMatchResponse(q.Text)
	case q.Mode == ModeDetailed:
		for i := range sections {
			sections[i].Response = sectionResponse(&sections[i])
		}
		result.Sections = sections
		result.Response = detailedResponse(q.Text, sections)
	default:
		result.Response = compactResponse(q.Text, q.BusinessID, result.Nodes)
	}

	s.logger.Info("search finished", "business", q.BusinessID, "mode", q.Mode,
		"hits", len(result.Nodes), "related", len(result.Related), "failed", len(result.Failed))
	monitor.Finish(result)
	return result, nil
}

// searchBusiness searches one collection. hasData is false when the
// collection is missing or holds no rows.
func (s *Searcher) searchBusiness(ctx context.Context, businessID, name, text string, topK int, weight float64) ([]core.SearchNode, bool, error) {
	collection := core.CollectionName(businessID)
	stats, err := s.index.Stats(ctx, collection)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if stats.RowCount == 0 {
		return nil, false, nil
	}

	hits, err := s.index.Search(ctx, collection, text, topK)
	if errors.Is(err, storage.ErrCollectionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	nodes := make([]core.SearchNode, len(hits))
	for i, h := range hits {
		nodes[i] = core.SearchNode{
			BusinessID:     businessID,
			BusinessName:   name,
			PK:             h.PK,
			DocumentID:     h.DocID,
			Text:           h.Text,
			Score:          h.Score,
			RelationWeight: weight,
		}
	}
	return nodes, true, nil
}

// searchRelated searches every related business on the pool under one
// deadline. A nil entry marks a failed branch.
func (s *Searcher) searchRelated(ctx context.Context, q Query, relations []core.Relation, monitor SearchMonitor) []*Section {
	ctx, cancel := context.WithTimeout(ctx, s.relatedTimeout)
	defer cancel()

	out := make([]*Section, len(relations))
	var wg sync.WaitGroup
	for i, rel := range relations {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			name, _ := s.meta.BusinessName(rel.To)
			nodes, _, err := s.searchBusiness(ctx, rel.To, name, q.Text, q.TopK, rel.Weight)
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				s.logger.Warn("related search failed", "business", rel.To, "err", err)
				monitor.RelatedFailed(rel.To, err)
				return
			}
			monitor.RelatedSearched(rel.To, nodes)
			out[i] = &Section{
				BusinessID:     rel.To,
				BusinessName:   name,
				RelationWeight: rel.Weight,
				SharedEntities: rel.SharedEntities,
				Nodes:          nodes,
			}
		}
		if err := s.pool.Submit(task); err != nil {
			wg.Done()
			s.logger.Warn("related search not scheduled", "business", rel.To, "err", err)
			monitor.RelatedFailed(rel.To, err)
		}
	}
	wg.Wait()
	return out
}

// rankNodes sorts by RankScore descending with deterministic ties.
func rankNodes(nodes []core.SearchNode) {
	slices.SortStableFunc(nodes, func(a, b core.SearchNode) int {
		if c := cmp.Compare(b.RankScore(), a.RankScore()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.BusinessID, b.BusinessID); c != 0 {
			return c
		}
		return cmp.Compare(a.PK, b.PK)
	})
}

// Statistics summarizes the query history.
func (s *Searcher) Statistics() Statistics {
	return s.history.statistics()
}
