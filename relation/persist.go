package relation

import (
	"fmt"
	"math"
	"time"
)

type edgeRecord struct {
	Type     string   `json:"type"`
	Types    []string `json:"types,omitempty"`
	Weight   float64  `json:"weight"`
	Entities []string `json:"entities"`
}

type fileMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fileFormat is the on-disk layout of business_relations.json.
type fileFormat struct {
	Version          int                              `json:"version"`
	Relations        map[string]map[string]edgeRecord `json:"relations"`
	EntityMap        map[string][]string              `json:"entity_map"`
	BusinessEntities map[string][]string              `json:"business_entities"`
	Metadata         fileMetadata                     `json:"metadata"`
}

// persist writes the graph. Must be called with the lock held.
func (g *Graph) persist() error {
	doc := fileFormat{
		Version:          formatVersion,
		Relations:        make(map[string]map[string]edgeRecord, len(g.adjacency)),
		EntityMap:        make(map[string][]string, len(g.entityMap)),
		BusinessEntities: make(map[string][]string, len(g.businessEntities)),
		Metadata:         fileMetadata{CreatedAt: g.createdAt, UpdatedAt: g.now()},
	}
	for id, row := range g.adjacency {
		out := make(map[string]edgeRecord, len(row))
		for other, e := range row {
			out[other] = edgeRecord{
				Type:     e.label,
				Types:    e.types.sorted(),
				Weight:   e.weight,
				Entities: e.entities.sorted(),
			}
		}
		doc.Relations[id] = out
	}
	for entity, holders := range g.entityMap {
		doc.EntityMap[entity] = holders.sorted()
	}
	for id, entities := range g.businessEntities {
		doc.BusinessEntities[id] = entities.sorted()
	}

	if err := g.file.Save(doc); err != nil {
		g.logger.Error("failed to save relations", "err", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// restore rebuilds the in-memory graph from a decoded file. Both directions
// of a pair collapse into one shared edge; if a hand-edited file disagrees
// between directions the larger weight and the union of sets win.
func (g *Graph) restore(doc *fileFormat) {
	if !doc.Metadata.CreatedAt.IsZero() {
		g.createdAt = doc.Metadata.CreatedAt
	}
	for a, row := range doc.Relations {
		for b, rec := range row {
			if a == b {
				continue
			}
			weight := rec.Weight
			if weight < 0 || math.IsNaN(weight) {
				weight = 0
			}
			e := g.adjacency[a][b]
			if e == nil {
				label := rec.Type
				if label == "" && len(rec.Types) > 0 {
					label = rec.Types[0]
				}
				e = &edge{label: label, types: make(set), entities: make(set)}
				g.link(a, b, e)
			}
			e.weight = math.Max(e.weight, weight)
			if rec.Type != "" {
				e.types[rec.Type] = struct{}{}
			}
			for _, t := range rec.Types {
				e.types[t] = struct{}{}
			}
			for _, s := range rec.Entities {
				e.entities[s] = struct{}{}
			}
		}
	}
	for entity, holders := range doc.EntityMap {
		g.entityMap[entity] = newSet(holders...)
	}
	for id, entities := range doc.BusinessEntities {
		g.businessEntities[id] = newSet(entities...)
		for _, entity := range entities {
			holders, ok := g.entityMap[entity]
			if !ok {
				holders = make(set)
				g.entityMap[entity] = holders
			}
			holders[id] = struct{}{}
		}
	}
}
