package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type registry struct {
	Items map[string]int `json:"items"`
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestFile_LoadMissing(t *testing.T) {
	dir := t.TempDir()
	f := New(filepath.Join(dir, "kb_metadata.json"), filepath.Join(dir, "backups"))

	var r registry
	recovered, err := f.Load(&r)
	require.NoError(t, err)
	assert.False(t, recovered)
	assert.Nil(t, r.Items)
}

func TestFile_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	f := New(filepath.Join(dir, "kb_metadata.json"), filepath.Join(dir, "backups"))

	require.NoError(t, f.Save(registry{Items: map[string]int{"a": 1}}))

	var r registry
	recovered, err := f.Load(&r)
	require.NoError(t, err)
	assert.False(t, recovered)
	assert.Equal(t, 1, r.Items["a"])

	// First save has nothing to back up.
	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestFile_SaveBacksUpPrevious(t *testing.T) {
	dir := t.TempDir()
	backups := filepath.Join(dir, "backups")
	f := New(filepath.Join(dir, "kb_metadata.json"), backups)
	f.now = fixedClock(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))

	require.NoError(t, f.Save(registry{Items: map[string]int{"v": 1}}))
	require.NoError(t, f.Save(registry{Items: map[string]int{"v": 2}}))
	require.NoError(t, f.Save(registry{Items: map[string]int{"v": 3}}))

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"kb_metadata.json_20250304_050607",
		"kb_metadata.json_20250304_050607_1",
	}, names)

	data, err := os.ReadFile(filepath.Join(backups, "kb_metadata.json_20250304_050607"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"v": 1`)

	var r registry
	_, err = f.Load(&r)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Items["v"])
}

func TestFile_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "business_relations.json")
	backups := filepath.Join(dir, "backups")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	f := New(path, backups)
	var r registry
	recovered, err := f.Load(&r)
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.Nil(t, r.Items)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupt file should be moved aside")

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(filepath.Join(backups, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestBackup_Directory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "documents"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "documents", "a.txt"), []byte("hello"), 0644))

	dst, err := Backup(src, filepath.Join(dir, "backups"), time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "docs_20250102_030405", filepath.Base(dst))

	data, err := os.ReadFile(filepath.Join(dst, "documents", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("content"), 0644))

	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}
