package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/bizkb/ai/rules"
	"github.com/poiesic/bizkb/core"
	"github.com/poiesic/bizkb/docproc"
	"github.com/poiesic/bizkb/metadata"
	"github.com/poiesic/bizkb/relation"
	"github.com/poiesic/bizkb/storage"
	"github.com/poiesic/bizkb/storage/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	meta     *metadata.Store
	graph    *relation.Graph
	index    *mock.MockIndexStore
	pipeline *Pipeline
	srcDir   string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	base := t.TempDir()
	mu := &sync.Mutex{}

	meta, err := metadata.Open(base, metadata.WithLock(mu))
	require.NoError(t, err)
	graph, err := relation.Open(base, relation.WithLock(mu), relation.WithExtractor(rules.NewExtractor()))
	require.NoError(t, err)
	proc, err := docproc.NewFileProcessor()
	require.NoError(t, err)
	index := mock.NewMockIndexStore()

	opts = append([]Option{WithPoolSize(2), WithRetry(2, time.Millisecond)}, opts...)
	p, err := NewPipeline(meta, graph, index, proc, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	return &testEnv{meta: meta, graph: graph, index: index, pipeline: p, srcDir: t.TempDir()}
}

func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.srcDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t)
	proc, _ := docproc.NewFileProcessor()

	_, err := NewPipeline(nil, env.graph, env.index, proc)
	assert.ErrorIs(t, err, ErrMetadataRequired)
	_, err = NewPipeline(env.meta, nil, env.index, proc)
	assert.ErrorIs(t, err, ErrGraphRequired)
	_, err = NewPipeline(env.meta, env.graph, nil, proc)
	assert.ErrorIs(t, err, ErrIndexStoreRequired)
	_, err = NewPipeline(env.meta, env.graph, env.index, nil)
	assert.ErrorIs(t, err, ErrProcessorRequired)
	_, err = NewPipeline(env.meta, env.graph, env.index, proc, WithRetry(0, 0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
}

func TestIngest_UnknownBusiness(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.pipeline.Ingest(context.Background(), "nope", []string{"x.txt"})
	assert.ErrorIs(t, err, core.ErrBusinessNotFound)
}

func TestIngest_IndexesAndLinks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.meta.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)
	_, err = env.meta.CreateBusiness("specs", "Specs", "")
	require.NoError(t, err)

	a := env.writeFile(t, "widget.txt", "The widget ships in blue. The widget costs ten dollars.")
	b := env.writeFile(t, "guide.md", "# Guide\n\nInstall the widget carefully. Then calibrate the sensor.")

	ids, err := env.pipeline.Ingest(ctx, "docs", []string{a, b})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	rows := env.index.Rows(core.CollectionName("docs"))
	require.NotEmpty(t, rows)
	for i, r := range rows {
		assert.Equal(t, int64(i+1), r.PK, "pks are contiguous from 1")
		assert.Contains(t, ids, r.DocID)
	}

	doc, err := env.meta.Document("docs", ids[0])
	require.NoError(t, err)
	assert.Contains(t, doc.Entities, "widget")
	assert.Equal(t, core.DocStatusActive, doc.Status)

	// A second business mentioning the same entity becomes related.
	c := env.writeFile(t, "tolerances.txt", "Widget tolerances are listed below.")
	_, err = env.pipeline.Ingest(ctx, "specs", []string{c})
	require.NoError(t, err)

	assert.Contains(t, env.graph.GetRelated("docs", 0), "specs")
	assert.Contains(t, env.graph.GetRelated("specs", 0), "docs")

	// Ingesting more into docs continues after the current row count.
	before := len(rows)
	d := env.writeFile(t, "more.txt", "Another widget note.")
	_, err = env.pipeline.Ingest(ctx, "docs", []string{d})
	require.NoError(t, err)
	rows = env.index.Rows(core.CollectionName("docs"))
	assert.Equal(t, int64(before+1), rows[len(rows)-1].PK)
}

func TestIngest_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.meta.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)

	good := env.writeFile(t, "good.txt", "Useful content here.")
	bad := env.writeFile(t, "image.png", "\x89PNG")
	empty := env.writeFile(t, "empty.txt", "   ")
	missing := filepath.Join(env.srcDir, "missing.txt")

	ids, err := env.pipeline.Ingest(context.Background(), "docs", []string{good, bad, empty, missing})
	require.Error(t, err)
	assert.ErrorIs(t, err, docproc.ErrUnsupportedFormat)
	assert.ErrorIs(t, err, ErrEmptyDocument)
	assert.Len(t, ids, 1)
	assert.Len(t, env.meta.GetActiveDocuments("docs"), 1)
}

func TestIngest_IndexFailureUnregistersDocument(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.meta.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)

	boom := errors.New("index unavailable")
	env.index.FailUpsert(core.CollectionName("docs"), boom)

	path := env.writeFile(t, "a.txt", "Some text.")
	ids, err := env.pipeline.Ingest(context.Background(), "docs", []string{path})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, ids)
	assert.Equal(t, 2, env.index.UpsertCount(), "upsert is retried")
	assert.Empty(t, env.meta.GetActiveDocuments("docs"))

	// The same file can be added once the index recovers.
	env.index.FailUpsert(core.CollectionName("docs"), nil)
	ids, err = env.pipeline.Ingest(context.Background(), "docs", []string{path})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	doc, err := env.meta.Document("docs", ids[0])
	require.NoError(t, err)
	assert.Equal(t, "a.txt", filepath.Base(doc.KBPath))
}

func TestRebuild(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.meta.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)

	a := env.writeFile(t, "a.txt", "Alpha one. Alpha two.")
	b := env.writeFile(t, "b.txt", "Beta one. Beta two.")
	ids, err := env.pipeline.Ingest(ctx, "docs", []string{a, b})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	removed, err := env.meta.RemoveDocument("docs", ids[0])
	require.NoError(t, err)
	require.True(t, removed)

	require.NoError(t, env.pipeline.Rebuild(ctx, "docs"))

	rows := env.index.Rows(core.CollectionName("docs"))
	require.NotEmpty(t, rows)
	for i, r := range rows {
		assert.Equal(t, int64(i+1), r.PK)
		assert.Equal(t, ids[1], r.DocID)
	}
}

func TestRebuild_NoActiveDocuments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.meta.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)
	require.NoError(t, env.index.CreateAndUpsert(ctx, core.CollectionName("docs"), []storage.Row{{PK: 1, Text: "stale"}}))

	err = env.pipeline.Rebuild(ctx, "docs")
	assert.ErrorIs(t, err, ErrNoActiveDocuments)

	exists, err := env.index.CollectionExists(ctx, core.CollectionName("docs"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRebuild_UnreadableDocumentMarkedCorrupted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.meta.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)

	a := env.writeFile(t, "a.txt", "Alpha.")
	b := env.writeFile(t, "b.txt", "Beta.")
	ids, err := env.pipeline.Ingest(ctx, "docs", []string{a, b})
	require.NoError(t, err)

	doc, err := env.meta.Document("docs", ids[0])
	require.NoError(t, err)
	require.NoError(t, os.Remove(doc.KBPath))

	require.NoError(t, env.pipeline.Rebuild(ctx, "docs"))

	doc, err = env.meta.Document("docs", ids[0])
	require.NoError(t, err)
	assert.Equal(t, core.DocStatusCorrupted, doc.Status)

	rows := env.index.Rows(core.CollectionName("docs"))
	require.Len(t, rows, 1)
	assert.Equal(t, ids[1], rows[0].DocID)
}

func TestIngest_IndexFailureLeavesGraphUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.meta.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)
	_, err = env.meta.CreateBusiness("specs", "Specs", "")
	require.NoError(t, err)

	_, err = env.pipeline.Ingest(ctx, "specs", []string{env.writeFile(t, "specs.txt", "Widget tolerances.")})
	require.NoError(t, err)

	env.index.FailUpsert(core.CollectionName("docs"), errors.New("index unavailable"))
	_, err = env.pipeline.Ingest(ctx, "docs", []string{env.writeFile(t, "widget.txt", "The widget manual.")})
	require.Error(t, err)

	assert.Empty(t, env.graph.BusinessEntities("docs"))
	assert.Empty(t, env.graph.GetRelated("specs", 0))

	env.index.FailUpsert(core.CollectionName("docs"), nil)
	_, err = env.pipeline.Ingest(ctx, "docs", []string{env.writeFile(t, "widget2.txt", "The widget manual.")})
	require.NoError(t, err)
	assert.Contains(t, env.graph.BusinessEntities("docs"), "widget")
	assert.Contains(t, env.graph.GetRelated("specs", 0), "docs")
}

// gatedProcessor blocks processing of one path until gate is closed.
type gatedProcessor struct {
	docproc.Processor
	gatePath string
	entered  chan struct{}
	gate     chan struct{}
	once     sync.Once
}

func (g *gatedProcessor) Process(ctx context.Context, path string) (string, map[string]string, error) {
	if g.gatePath != "" && path == g.gatePath {
		g.once.Do(func() { close(g.entered) })
		<-g.gate
	}
	return g.Processor.Process(ctx, path)
}

func TestRebuild_ConcurrentIngestIsNotLost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.meta.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)

	proc, err := docproc.NewFileProcessor()
	require.NoError(t, err)
	gated := &gatedProcessor{Processor: proc, entered: make(chan struct{}), gate: make(chan struct{})}
	p, err := NewPipeline(env.meta, env.graph, env.index, gated, WithPoolSize(2), WithRetry(2, time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(p.Release)

	first, err := p.Ingest(ctx, "docs", []string{env.writeFile(t, "a.txt", "Alpha one.")})
	require.NoError(t, err)
	doc, err := env.meta.Document("docs", first[0])
	require.NoError(t, err)
	gated.gatePath = doc.KBPath

	rebuilt := make(chan error, 1)
	go func() { rebuilt <- p.Rebuild(ctx, "docs") }()
	<-gated.entered

	type ingestResult struct {
		ids []string
		err error
	}
	ingested := make(chan ingestResult, 1)
	go func() {
		ids, err := p.Ingest(ctx, "docs", []string{env.writeFile(t, "b.txt", "Beta one.")})
		ingested <- ingestResult{ids, err}
	}()

	select {
	case <-ingested:
		t.Fatal("ingest finished while a rebuild was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.gate)
	require.NoError(t, <-rebuilt)
	res := <-ingested
	require.NoError(t, res.err)
	require.Len(t, res.ids, 1)

	assert.Len(t, env.meta.GetActiveDocuments("docs"), 2)
	indexed := map[string]bool{}
	for _, r := range env.index.Rows(core.CollectionName("docs")) {
		indexed[r.DocID] = true
	}
	assert.True(t, indexed[first[0]])
	assert.True(t, indexed[res.ids[0]], "document ingested during the rebuild is indexed")
}
