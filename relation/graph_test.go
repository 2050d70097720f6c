package relation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/bizkb/ai/mock"
	"github.com/poiesic/bizkb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openGraph(t *testing.T, dir string, opts ...Option) *Graph {
	t.Helper()
	g, err := Open(dir, opts...)
	require.NoError(t, err)
	return g
}

func assertSymmetric(t *testing.T, g *Graph) {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	for a, row := range g.adjacency {
		for b, e := range row {
			back, ok := g.adjacency[b][a]
			require.Truef(t, ok, "edge %s->%s has no reverse", a, b)
			assert.Equalf(t, e.weight, back.weight, "weight %s<->%s", a, b)
			assert.Equalf(t, e.entities.sorted(), back.entities.sorted(), "entities %s<->%s", a, b)
		}
	}
}

func TestUsageIncrement(t *testing.T) {
	tests := []struct {
		n    int
		want float64
	}{
		{0, 0},
		{1, 0.2},
		{5, 1.0},
		{100, 1.0},
		{-3, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			assert.InDelta(t, tt.want, UsageIncrement(tt.n), 1e-9)
		})
	}
}

func TestGraph_RecordQueryUsageBoundedIncrement(t *testing.T) {
	for _, tt := range []struct {
		n    int
		want float64
	}{{0, 0}, {1, 0.2}, {5, 1.0}, {100, 1.0}} {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			g := openGraph(t, t.TempDir())
			require.NoError(t, g.AddRelation("docs", "specs", core.RelationManual, 0.5, nil))

			require.NoError(t, g.RecordQueryUsage("docs", map[string]int{"specs": tt.n}))

			rel, ok := g.Relation("docs", "specs")
			require.True(t, ok)
			assert.InDelta(t, 0.5+tt.want, rel.Weight, 1e-9)
			back, ok := g.Relation("specs", "docs")
			require.True(t, ok)
			assert.Equal(t, rel.Weight, back.Weight)
		})
	}
}

func TestGraph_RecordQueryUsageAccumulates(t *testing.T) {
	g := openGraph(t, t.TempDir())
	require.NoError(t, g.RecordQueryUsage("docs", map[string]int{"specs": 1, "docs": 4}))
	require.NoError(t, g.RecordQueryUsage("docs", map[string]int{"specs": 2}))

	rel, ok := g.Relation("specs", "docs")
	require.True(t, ok)
	assert.InDelta(t, 0.6, rel.Weight, 1e-9)
	assert.Equal(t, []string{core.RelationQueryUsage}, rel.Types)

	_, self := g.Relation("docs", "docs")
	assert.False(t, self)
}

func TestGraph_NoSelfRelation(t *testing.T) {
	g := openGraph(t, t.TempDir())
	for _, typ := range []string{core.RelationSharedEntity, core.RelationQueryUsage, core.RelationManual} {
		require.NoError(t, g.AddRelation("docs", "docs", typ, 0.9, []string{"widget"}))
	}
	_, ok := g.Relation("docs", "docs")
	assert.False(t, ok)
	assert.Empty(t, g.GetRelated("docs", 5))
	assert.Equal(t, Stats{}, g.Stats())
}

func TestGraph_AddRelationMergeRules(t *testing.T) {
	g := openGraph(t, t.TempDir())

	require.NoError(t, g.AddRelation("a", "b", core.RelationSharedEntity, 0.5, []string{"x"}))
	require.NoError(t, g.AddRelation("b", "a", core.RelationSharedEntity, 0.3, []string{"y"}))

	rel, ok := g.Relation("a", "b")
	require.True(t, ok)
	assert.Equal(t, 0.5, rel.Weight, "entity relations keep the maximum")
	assert.Equal(t, []string{"x", "y"}, rel.SharedEntities)

	require.NoError(t, g.AddRelation("a", "b", core.RelationQueryUsage, 0.2, nil))
	rel, _ = g.Relation("b", "a")
	assert.InDelta(t, 0.7, rel.Weight, 1e-9, "usage relations accumulate")
	assert.Equal(t, []string{core.RelationQueryUsage, core.RelationSharedEntity}, rel.Types)
	assert.Equal(t, []string{"x", "y"}, rel.SharedEntities)

	assert.ErrorIs(t, g.AddRelation("a", "b", core.RelationManual, -1, nil), ErrNegativeWeight)
}

func TestGraph_LinkEntitiesJaccard(t *testing.T) {
	g := openGraph(t, t.TempDir())

	require.NoError(t, g.LinkEntities("docs", []string{"widget", "gear", "bolt"}))
	require.NoError(t, g.LinkEntities("specs", []string{"widget", "gear", "spring"}))

	rel, ok := g.Relation("docs", "specs")
	require.True(t, ok)
	// shared {widget, gear}, union {widget, gear, bolt, spring}
	assert.InDelta(t, 0.5, rel.Weight, 1e-9)
	assert.Equal(t, []string{"gear", "widget"}, rel.SharedEntities)
	assert.Equal(t, []string{core.RelationSharedEntity}, rel.Types)

	assert.Equal(t, []string{"docs", "specs"}, g.BusinessesByEntity("widget"))
	assert.Equal(t, []string{"bolt", "gear", "widget"}, g.BusinessEntities("docs"))
	assert.Equal(t, []string{"gear", "widget"}, g.SharedEntities("docs", "specs"))

	t.Run("unrelated business gets no edge", func(t *testing.T) {
		require.NoError(t, g.LinkEntities("hr", []string{"payroll"}))
		_, ok := g.Relation("hr", "docs")
		assert.False(t, ok)
	})

	t.Run("weight never decreases", func(t *testing.T) {
		// More unshared entities shrink the Jaccard ratio, but max keeps 0.5.
		require.NoError(t, g.LinkEntities("docs", []string{"nut", "washer", "rivet", "widget"}))
		rel, _ := g.Relation("specs", "docs")
		assert.InDelta(t, 0.5, rel.Weight, 1e-9)
	})
}

func TestGraph_ExtractAndLink(t *testing.T) {
	extractor := mock.NewMockEntityExtractor()
	g := openGraph(t, t.TempDir(), WithExtractor(extractor), WithMaxEntities(2))

	entities, err := g.ExtractAndLink(context.Background(), "docs", "widget gadget sprocket")
	require.NoError(t, err)
	assert.Equal(t, []string{"widget", "gadget"}, entities)

	_, err = g.ExtractAndLink(context.Background(), "specs", "widget manual")
	require.NoError(t, err)
	assert.Equal(t, []string{"specs"}, g.GetRelated("docs", 5))

	extractor.ExtractEntitiesFunc = func(ctx context.Context, text string, max int) ([]string, error) {
		return nil, errors.New("model offline")
	}
	_, err = g.ExtractAndLink(context.Background(), "docs", "anything")
	assert.Error(t, err)

	_, err = openGraph(t, t.TempDir()).ExtractAndLink(context.Background(), "docs", "x")
	assert.ErrorIs(t, err, ErrNoExtractor)
}

func TestGraph_ExtractEntitiesDoesNotLink(t *testing.T) {
	g := openGraph(t, t.TempDir(), WithExtractor(mock.NewMockEntityExtractor()), WithMaxEntities(2))
	require.NoError(t, g.LinkEntities("specs", []string{"widget"}))

	entities, err := g.ExtractEntities(context.Background(), "widget gadget sprocket")
	require.NoError(t, err)
	assert.Equal(t, []string{"widget", "gadget"}, entities)
	assert.Empty(t, g.BusinessEntities("docs"))
	assert.Empty(t, g.GetRelated("specs", 0))
}

func TestGraph_GetRelatedOrdering(t *testing.T) {
	g := openGraph(t, t.TempDir())
	require.NoError(t, g.AddRelation("hub", "a", core.RelationManual, 0.2, nil))
	require.NoError(t, g.AddRelation("hub", "b", core.RelationManual, 0.9, nil))
	require.NoError(t, g.AddRelation("hub", "c", core.RelationManual, 0.5, nil))
	require.NoError(t, g.AddRelation("hub", "d", core.RelationManual, 0.5, nil))

	assert.Equal(t, []string{"b", "c"}, g.GetRelated("hub", 2))
	assert.Equal(t, []string{"b", "c", "d", "a"}, g.GetRelated("hub", 0))
	assert.Equal(t, []string{"hub"}, g.GetRelated("a", 3))
	assert.Empty(t, g.GetRelated("unknown", 3))

	rels := g.Related("hub", 1)
	require.Len(t, rels, 1)
	assert.Equal(t, "hub", rels[0].From)
	assert.Equal(t, 0.9, rels[0].Weight)

	t.Run("min weight", func(t *testing.T) {
		dir := t.TempDir()
		g := openGraph(t, dir, WithMinWeight(0.4))
		require.NoError(t, g.AddRelation("hub", "a", core.RelationManual, 0.2, nil))
		require.NoError(t, g.AddRelation("hub", "b", core.RelationManual, 0.4, nil))
		assert.Equal(t, []string{"b"}, g.GetRelated("hub", 5))
	})
}

func TestGraph_SymmetryUnderRandomOperations(t *testing.T) {
	dir := t.TempDir()
	g := openGraph(t, dir)
	rng := rand.New(rand.NewSource(42))
	ids := []string{"a", "b", "c", "d", "e"}
	words := []string{"widget", "gear", "bolt", "spring", "nut", "axle"}
	types := []string{core.RelationSharedEntity, core.RelationQueryUsage, core.RelationManual}

	pick := func(items []string, n int) []string {
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, items[rng.Intn(len(items))])
		}
		return out
	}

	for i := 0; i < 200; i++ {
		a, b := ids[rng.Intn(len(ids))], ids[rng.Intn(len(ids))]
		switch rng.Intn(3) {
		case 0:
			require.NoError(t, g.AddRelation(a, b, types[rng.Intn(len(types))], rng.Float64(), pick(words, rng.Intn(3))))
		case 1:
			require.NoError(t, g.LinkEntities(a, pick(words, 1+rng.Intn(3))))
		case 2:
			require.NoError(t, g.RecordQueryUsage(a, map[string]int{b: rng.Intn(7)}))
		}
	}
	assertSymmetric(t, g)

	reloaded := openGraph(t, dir)
	assertSymmetric(t, reloaded)
	for _, a := range ids {
		for _, b := range ids {
			want, wok := g.Relation(a, b)
			got, gok := reloaded.Relation(a, b)
			require.Equal(t, wok, gok)
			if wok {
				assert.InDelta(t, want.Weight, got.Weight, 1e-12)
				assert.Equal(t, want.SharedEntities, got.SharedEntities)
				assert.Equal(t, want.Types, got.Types)
			}
		}
	}

	t.Run("file is symmetric", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, FileName))
		require.NoError(t, err)
		var doc fileFormat
		require.NoError(t, json.Unmarshal(data, &doc))
		for a, row := range doc.Relations {
			for b, rec := range row {
				back := doc.Relations[b][a]
				assert.Equal(t, rec.Weight, back.Weight)
				assert.Equal(t, rec.Entities, back.Entities)
			}
		}
	})
}

func TestGraph_LoadAsymmetricFile(t *testing.T) {
	dir := t.TempDir()
	raw := `{
  "relations": {
    "a": {"b": {"type": "shared_entity", "weight": 0.3, "entities": ["x"]}},
    "b": {"a": {"type": "shared_entity", "weight": 0.6, "entities": ["y"]}}
  },
  "entity_map": {"x": ["a", "b"]}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(raw), 0644))

	g := openGraph(t, dir)
	assertSymmetric(t, g)
	rel, ok := g.Relation("a", "b")
	require.True(t, ok)
	assert.Equal(t, 0.6, rel.Weight)
	assert.Equal(t, []string{"x", "y"}, rel.SharedEntities)
	assert.Equal(t, []string{"a", "b"}, g.BusinessesByEntity("x"))
}

func TestGraph_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("[oops"), 0644))

	g := openGraph(t, dir)
	assert.Equal(t, Stats{}, g.Stats())

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestGraph_RemoveBusiness(t *testing.T) {
	g := openGraph(t, t.TempDir())
	require.NoError(t, g.LinkEntities("a", []string{"widget"}))
	require.NoError(t, g.LinkEntities("b", []string{"widget"}))
	require.NoError(t, g.LinkEntities("c", []string{"widget"}))
	assert.Equal(t, Stats{Businesses: 3, Edges: 3, Entities: 1}, g.Stats())

	removed, err := g.RemoveBusiness("b")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []string{"c"}, g.GetRelated("a", 5))
	assert.Equal(t, []string{"a", "c"}, g.BusinessesByEntity("widget"))
	assert.Empty(t, g.BusinessEntities("b"))

	removed, err = g.RemoveBusiness("b")
	require.NoError(t, err)
	assert.False(t, removed)
}
