package metadata

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/bizkb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestStore_CreateBusiness(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base)
	require.NoError(t, err)

	t.Run("creates directories and entry", func(t *testing.T) {
		ok, err := s.CreateBusiness("docs", "", "documentation")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, s.BusinessExists("docs"))

		name, found := s.BusinessName("docs")
		require.True(t, found)
		assert.Equal(t, "docs", name, "name should default to the id")

		assert.DirExists(t, filepath.Join(base, "docs", "documents"))
		assert.DirExists(t, filepath.Join(base, "docs", "index"))
		assert.FileExists(t, filepath.Join(base, FileName))
	})

	t.Run("duplicate is rejected without mutation", func(t *testing.T) {
		ok, err := s.CreateBusiness("docs", "Other", "other")
		require.NoError(t, err)
		assert.False(t, ok)

		info, err := s.BusinessInfo("docs")
		require.NoError(t, err)
		assert.Equal(t, "documentation", info.Description)
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := s.CreateBusiness("../x", "", "")
		assert.ErrorIs(t, err, core.ErrInvalidBusinessID)
	})
}

func TestStore_AddAndRemoveDocument(t *testing.T) {
	base := t.TempDir()
	src := t.TempDir()
	s, err := Open(base)
	require.NoError(t, err)
	_, err = s.CreateBusiness("docs", "Docs", "")
	require.NoError(t, err)

	path := writeSource(t, src, "manual.txt", "The widget is blue.")
	docID, err := s.AddDocument("docs", path, "The widget is blue.", []string{"widget"})
	require.NoError(t, err)
	require.NotEmpty(t, docID)

	doc, err := s.Document("docs", docID)
	require.NoError(t, err)
	assert.Equal(t, core.DocStatusActive, doc.Status)
	assert.Equal(t, "manual.txt", doc.FileName)
	assert.Equal(t, filepath.Join(base, "docs", "documents", "manual.txt"), doc.KBPath)
	assert.Equal(t, []string{"widget"}, doc.Entities)
	assert.FileExists(t, doc.KBPath)

	fp, err := core.Fingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, fp, doc.Fingerprint)

	t.Run("same file name gets a unique kb path", func(t *testing.T) {
		other := writeSource(t, t.TempDir(), "manual.txt", "second copy")
		id2, err := s.AddDocument("docs", other, "", nil)
		require.NoError(t, err)
		doc2, err := s.Document("docs", id2)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "docs", "documents", "manual_1.txt"), doc2.KBPath)
		assert.Len(t, s.GetActiveDocuments("docs"), 2)
	})

	t.Run("unknown business", func(t *testing.T) {
		_, err := s.AddDocument("nope", path, "", nil)
		assert.ErrorIs(t, err, core.ErrBusinessNotFound)
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := s.AddDocument("docs", filepath.Join(src, "missing.txt"), "", nil)
		assert.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		ok, err := s.RemoveDocument("docs", docID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoFileExists(t, doc.KBPath)

		_, err = s.Document("docs", docID)
		assert.ErrorIs(t, err, core.ErrDocumentNotFound)

		ok, err = s.RemoveDocument("docs", docID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_GetActiveDocumentsFiltersStatus(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.CreateBusiness("docs", "", "")
	require.NoError(t, err)

	src := t.TempDir()
	a, err := s.AddDocument("docs", writeSource(t, src, "a.txt", "a"), "", nil)
	require.NoError(t, err)
	b, err := s.AddDocument("docs", writeSource(t, src, "b.txt", "b"), "", nil)
	require.NoError(t, err)
	c, err := s.AddDocument("docs", writeSource(t, src, "c.txt", "c"), "", nil)
	require.NoError(t, err)

	require.NoError(t, s.MarkDeleted("docs", b))
	require.NoError(t, s.SetStatus("docs", c, core.DocStatusCorrupted))

	active := s.GetActiveDocuments("docs")
	require.Len(t, active, 1)
	assert.Equal(t, a, active[0].ID)

	assert.Empty(t, s.GetActiveDocuments("unknown"))
	assert.Error(t, s.SetStatus("docs", a, "archived"))
}

func TestStore_FingerprintUpdates(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = s.CreateBusiness("docs", "", "")
	require.NoError(t, err)
	id, err := s.AddDocument("docs", writeSource(t, t.TempDir(), "a.txt", "a"), "", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateFingerprint("docs", id, "abc"))
	doc, err := s.Document("docs", id)
	require.NoError(t, err)
	assert.Equal(t, "abc", doc.Fingerprint)
	assert.True(t, doc.NeedsReprocessing)

	require.NoError(t, s.ClearReprocessing("docs", id))
	doc, err = s.Document("docs", id)
	require.NoError(t, err)
	assert.False(t, doc.NeedsReprocessing)

	assert.ErrorIs(t, s.ClearReprocessing("docs", "missing"), core.ErrDocumentNotFound)
}

func TestStore_DeleteBusiness(t *testing.T) {
	base := t.TempDir()
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s, err := Open(base, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	_, err = s.CreateBusiness("docs", "", "")
	require.NoError(t, err)
	_, err = s.AddDocument("docs", writeSource(t, t.TempDir(), "a.txt", "a"), "", nil)
	require.NoError(t, err)

	ok, err := s.DeleteBusiness("docs")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, s.BusinessExists("docs"))
	assert.NoDirExists(t, filepath.Join(base, "docs"))
	assert.FileExists(t, filepath.Join(base, BackupDirName, "docs_20250601_120000", "documents", "a.txt"))

	ok, err = s.DeleteBusiness("docs")
	require.NoError(t, err)
	assert.False(t, ok, "deleting twice is a no-op")
}

func TestStore_Reload(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base)
	require.NoError(t, err)
	_, err = s.CreateBusiness("docs", "Docs", "desc")
	require.NoError(t, err)
	id, err := s.AddDocument("docs", writeSource(t, t.TempDir(), "a.txt", "a"), "", []string{"widget"})
	require.NoError(t, err)

	reopened, err := Open(base)
	require.NoError(t, err)
	doc, err := reopened.Document("docs", id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, []string{"widget"}, doc.Entities)

	summaries := reopened.ListBusinesses()
	require.Len(t, summaries, 1)
	assert.Equal(t, "docs", summaries[0].ID)
	assert.Equal(t, 1, summaries[0].DocumentCount)
}

func TestStore_LoadBackfillsStatus(t *testing.T) {
	base := t.TempDir()
	raw := `{"businesses": {"docs": {"name": "Docs", "documents": {"d1": {"file_name": "a.txt", "kb_path": "/x/a.txt"}}}}}`
	require.NoError(t, os.WriteFile(filepath.Join(base, FileName), []byte(raw), 0644))

	s, err := Open(base)
	require.NoError(t, err)
	doc, err := s.Document("docs", "d1")
	require.NoError(t, err)
	assert.Equal(t, core.DocStatusActive, doc.Status)
}

func TestStore_LoadCorrupt(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, FileName), []byte("{{{"), 0644))

	s, err := Open(base)
	require.NoError(t, err)
	assert.Empty(t, s.ListBusinesses())

	entries, err := os.ReadDir(filepath.Join(base, BackupDirName))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	ok, err := s.CreateBusiness("docs", "", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_BackupBeforeWrite(t *testing.T) {
	base := t.TempDir()
	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := Open(base, WithClock(func() time.Time { return tick }))
	require.NoError(t, err)

	_, err = s.CreateBusiness("a", "", "")
	require.NoError(t, err)
	_, err = s.CreateBusiness("b", "", "")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(base, BackupDirName))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Contains(t, e.Name(), FileName+"_")
	}
}

func TestStore_BackupDirectoryIsNotABusiness(t *testing.T) {
	base := t.TempDir()
	s, err := Open(base)
	require.NoError(t, err)
	_, err = s.CreateBusiness("a", "", "")
	require.NoError(t, err)
	_, err = s.CreateBusiness("b", "", "")
	require.NoError(t, err)

	before, err := os.ReadDir(filepath.Join(base, BackupDirName))
	require.NoError(t, err)
	require.NotEmpty(t, before)

	ok, err := s.CreateBusiness(BackupDirName, "", "")
	assert.ErrorIs(t, err, core.ErrReservedBusinessID)
	assert.False(t, ok)
	assert.False(t, s.BusinessExists(BackupDirName))

	_, err = s.DeleteBusiness(BackupDirName)
	assert.ErrorIs(t, err, core.ErrReservedBusinessID)

	after, err := os.ReadDir(filepath.Join(base, BackupDirName))
	require.NoError(t, err)
	assert.Len(t, after, len(before), "existing backups survive")
}

func TestStore_SharedLock(t *testing.T) {
	var mu sync.Mutex
	s, err := Open(t.TempDir(), WithLock(&mu))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.CreateBusiness(id, "", "")
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()
	assert.Equal(t, []string{"a", "b", "c", "d"}, s.BusinessIDs())

	_, err = Open(t.TempDir(), WithLock(nil))
	assert.Error(t, err)
}
