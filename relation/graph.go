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

package relation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/bizkb/ai"
	"github.com/poiesic/bizkb/core"
	"github.com/poiesic/bizkb/snapshot"
)

const (
	// FileName is the relation file inside the base directory.
	FileName = "business_relations.json"

	// UsageStep is the weight added per contributing use in RecordQueryUsage.
	UsageStep = 0.2
	// MaxUsageIncrement bounds the weight a single RecordQueryUsage call adds to an edge.
	MaxUsageIncrement = 1.0

	formatVersion = 1
)

// UsageIncrement returns the weight added for n uses: min(n*0.2, 1.0).
func UsageIncrement(n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(float64(n)*UsageStep, MaxUsageIncrement)
}

type set map[string]struct{}

func newSet(items ...string) set {
	s := make(set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s set) sorted() []string {
	return slices.Sorted(maps.Keys(s))
}

// edge is shared by both adjacency entries of an unordered pair.
type edge struct {
	label    string
	types    set
	weight   float64
	entities set
}

// Graph is the relation graph. Mutations are serialized by a lock that may
// be shared with the metadata store, and every mutation is persisted with
// backup-before-write.
type Graph struct {
	mu          sync.Locker
	file        *snapshot.File
	extractor   ai.EntityExtractor
	maxEntities int
	minWeight   float64

	adjacency        map[string]map[string]*edge
	entityMap        map[string]set
	businessEntities map[string]set
	createdAt        time.Time

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Graph.
type Option func(*Graph) error

// WithLogger sets the logger. A nil logger falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger
		return nil
	}
}

// WithLock shares a lock with other components.
func WithLock(mu sync.Locker) Option {
	return func(g *Graph) error {
		if mu == nil {
			return errors.New("lock cannot be nil")
		}
		g.mu = mu
		return nil
	}
}

// WithExtractor sets the entity extractor used by ExtractAndLink.
func WithExtractor(extractor ai.EntityExtractor) Option {
	return func(g *Graph) error {
		g.extractor = extractor
		return nil
	}
}

// WithMaxEntities caps the entities taken from a single text.
func WithMaxEntities(n int) Option {
	return func(g *Graph) error {
		if n < 1 {
			return errors.New("max entities must be positive")
		}
		g.maxEntities = n
		return nil
	}
}

// WithMinWeight sets the weight floor applied by GetRelated and Related.
func WithMinWeight(w float64) Option {
	return func(g *Graph) error {
		if w < 0 {
			return ErrNegativeWeight
		}
		g.minWeight = w
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) error {
		g.now = now
		return nil
	}
}

// Open loads the graph from baseDir. A corrupt file is backed up and the
// graph starts empty.
func Open(baseDir string, opts ...Option) (*Graph, error) {
	g := &Graph{
		mu:               &sync.Mutex{},
		maxEntities:      ai.DefaultMaxEntities,
		adjacency:        make(map[string]map[string]*edge),
		entityMap:        make(map[string]set),
		businessEntities: make(map[string]set),
		logger:           slog.Default(),
		now:              time.Now,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	g.logger = g.logger.With("component", "relation-graph")
	g.file = snapshot.New(filepath.Join(baseDir, FileName), filepath.Join(baseDir, core.BackupDirName))
	g.createdAt = g.now()

	var doc fileFormat
	recovered, err := g.file.Load(&doc)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}
	if recovered {
		g.logger.Warn("relation file was corrupt, backed up and started empty", "path", g.file.Path)
		if err := g.persist(); err != nil {
			return nil, err
		}
		return g, nil
	}
	g.restore(&doc)
	g.logger.Debug("relations loaded", "businesses", len(g.adjacency), "entities", len(g.entityMap))
	return g, nil
}

// ExtractEntities runs the configured extractor over text without touching
// the graph. The result is capped at the graph's entity limit.
func (g *Graph) ExtractEntities(ctx context.Context, text string) ([]string, error) {
	if g.extractor == nil {
		return nil, ErrNoExtractor
	}
	entities, err := g.extractor.ExtractEntities(ctx, text, g.maxEntities)
	if err != nil {
		return nil, fmt.Errorf("extracting entities: %w", err)
	}
	if len(entities) > g.maxEntities {
		entities = entities[:g.maxEntities]
	}
	return entities, nil
}

// ExtractAndLink extracts the entities of text, registers them for
// businessID and links it to every business sharing any of them.
// Returns the extracted entities.
func (g *Graph) ExtractAndLink(ctx context.Context, businessID, text string) ([]string, error) {
	entities, err := g.ExtractEntities(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := g.LinkEntities(businessID, entities); err != nil {
		return entities, err
	}
	return entities, nil
}

// LinkEntities registers entities for businessID and creates or strengthens
// shared-entity edges to every overlapping business.
func (g *Graph) LinkEntities(businessID string, entities []string) error {
	if len(entities) == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	own, ok := g.businessEntities[businessID]
	if !ok {
		own = make(set)
		g.businessEntities[businessID] = own
	}
	candidates := make(set)
	for _, e := range entities {
		if e == "" {
			continue
		}
		own[e] = struct{}{}
		holders, ok := g.entityMap[e]
		if !ok {
			holders = make(set)
			g.entityMap[e] = holders
		}
		holders[businessID] = struct{}{}
		for other := range holders {
			if other != businessID {
				candidates[other] = struct{}{}
			}
		}
	}

	for _, other := range candidates.sorted() {
		theirs := g.businessEntities[other]
		var shared []string
		union := len(theirs)
		for e := range own {
			if _, ok := theirs[e]; ok {
				shared = append(shared, e)
			} else {
				union++
			}
		}
		if len(shared) == 0 || union == 0 {
			continue
		}
		weight := float64(len(shared)) / float64(union)
		g.addRelation(businessID, other, core.RelationSharedEntity, weight, shared)
		g.logger.Debug("linked businesses", "business", businessID, "other", other, "shared", len(shared), "weight", weight)
	}
	return g.persist()
}

// AddRelation creates or updates the symmetric edge between a and b.
// It is a no-op when a == b. Usage edges accumulate weight; every other
// type keeps the maximum. Type and entity sets are unioned.
func (g *Graph) AddRelation(a, b, relationType string, weight float64, sharedEntities []string) error {
	if a == b {
		return nil
	}
	if weight < 0 || math.IsNaN(weight) {
		return ErrNegativeWeight
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.addRelation(a, b, relationType, weight, sharedEntities)
	return g.persist()
}

// addRelation must be called with the lock held.
func (g *Graph) addRelation(a, b, relationType string, weight float64, sharedEntities []string) {
	if a == b {
		return
	}
	e := g.adjacency[a][b]
	if e == nil {
		e = &edge{label: relationType, types: make(set), entities: make(set)}
		g.link(a, b, e)
	}
	e.types[relationType] = struct{}{}
	if relationType == core.RelationQueryUsage {
		e.weight += weight
	} else {
		e.weight = math.Max(e.weight, weight)
	}
	for _, s := range sharedEntities {
		e.entities[s] = struct{}{}
	}
}

func (g *Graph) link(a, b string, e *edge) {
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		row, ok := g.adjacency[pair[0]]
		if !ok {
			row = make(map[string]*edge)
			g.adjacency[pair[0]] = row
		}
		row[pair[1]] = e
	}
}

// RecordQueryUsage strengthens the edges between primary and every business
// used by a cross-business query. used maps business ID to the number of
// contributions; each edge grows by UsageIncrement(count).
func (g *Graph) RecordQueryUsage(primary string, used map[string]int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := false
	for _, other := range slices.Sorted(maps.Keys(used)) {
		inc := UsageIncrement(used[other])
		if other == primary || inc == 0 {
			continue
		}
		g.addRelation(primary, other, core.RelationQueryUsage, inc, nil)
		changed = true
	}
	if !changed {
		return nil
	}
	return g.persist()
}

// GetRelated returns the IDs of primary's neighbours by descending weight,
// truncated to maxCount. A non-positive maxCount returns all neighbours.
func (g *Graph) GetRelated(id string, maxCount int) []string {
	rels := g.Related(id, maxCount)
	out := make([]string, len(rels))
	for i, r := range rels {
		out[i] = r.To
	}
	return out
}

// Related is GetRelated with edge details.
func (g *Graph) Related(id string, maxCount int) []core.Relation {
	g.mu.Lock()
	defer g.mu.Unlock()

	row := g.adjacency[id]
	out := make([]core.Relation, 0, len(row))
	for other, e := range row {
		if e.weight < g.minWeight {
			continue
		}
		out = append(out, view(id, other, e))
	}
	slices.SortFunc(out, func(a, b core.Relation) int {
		if c := cmp.Compare(b.Weight, a.Weight); c != 0 {
			return c
		}
		return cmp.Compare(a.To, b.To)
	})
	if maxCount > 0 && len(out) > maxCount {
		out = out[:maxCount]
	}
	return out
}

// Relation returns the edge between a and b as seen from a.
func (g *Graph) Relation(a, b string) (core.Relation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.adjacency[a][b]
	if !ok {
		return core.Relation{}, false
	}
	return view(a, b, e), true
}

func view(from, to string, e *edge) core.Relation {
	return core.Relation{
		From:           from,
		To:             to,
		Types:          e.types.sorted(),
		Weight:         e.weight,
		SharedEntities: e.entities.sorted(),
	}
}

// BusinessEntities returns the entities registered for a business, sorted.
func (g *Graph) BusinessEntities(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.businessEntities[id].sorted()
}

// BusinessesByEntity returns the businesses registered for an entity, sorted.
func (g *Graph) BusinessesByEntity(entity string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entityMap[entity].sorted()
}

// SharedEntities returns the entities registered for both a and b, sorted.
func (g *Graph) SharedEntities(a, b string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var shared []string
	theirs := g.businessEntities[b]
	for e := range g.businessEntities[a] {
		if _, ok := theirs[e]; ok {
			shared = append(shared, e)
		}
	}
	slices.Sort(shared)
	return shared
}

// RemoveBusiness drops every edge and entity registration of a business.
// Returns false if the graph knew nothing about it.
func (g *Graph) RemoveBusiness(id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, hasEdges := g.adjacency[id]
	entities, hasEntities := g.businessEntities[id]
	if !hasEdges && !hasEntities {
		return false, nil
	}
	for other := range g.adjacency[id] {
		delete(g.adjacency[other], id)
		if len(g.adjacency[other]) == 0 {
			delete(g.adjacency, other)
		}
	}
	delete(g.adjacency, id)
	for e := range entities {
		delete(g.entityMap[e], id)
		if len(g.entityMap[e]) == 0 {
			delete(g.entityMap, e)
		}
	}
	delete(g.businessEntities, id)
	g.logger.Info("business removed from relation graph", "business", id)
	return true, g.persist()
}

// Stats reports the size of the graph.
type Stats struct {
	Businesses int
	Edges      int
	Entities   int
}

// Stats returns node, undirected edge and entity counts.
func (g *Graph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	edges := 0
	for _, row := range g.adjacency {
		edges += len(row)
	}
	return Stats{Businesses: len(g.adjacency), Edges: edges / 2, Entities: len(g.entityMap)}
}

// Save persists the graph.
func (g *Graph) Save() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.persist()
}
