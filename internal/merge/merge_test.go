package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeusData/callgraph-mcp/internal/docstore"
)

func writeCache(t *testing.T, path, prefix string, n int, withVectors bool) {
	t.Helper()
	s, err := docstore.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	recs := make([]docstore.Record, n)
	for i := range recs {
		recs[i] = docstore.Record{
			ID:    fmt.Sprintf("%s-%04d", prefix, i),
			Text:  "doc",
			Attrs: map[string]any{"module": prefix},
		}
		if withVectors {
			recs[i].Vector = []float32{float32(i)}
		}
	}
	require.NoError(t, s.AddBatch(recs))
}

func openRO(path string) (docstore.Backend, error) {
	return docstore.OpenSQLiteReadOnly(path)
}

// pagedOnly hides the Replicator implementation so every merge takes the paged path.
type pagedOnly struct{ docstore.Backend }

func TestMergeFromPagedCopiesEverything(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dep-1.0.db")
	writeCache(t, src, "dep", 1234, true)

	target, err := docstore.OpenSQLiteMemory()
	require.NoError(t, err)
	defer target.Close()

	e := New(pagedOnly{target}, openRO, 500)
	n, err := e.MergeFrom(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, 1234, n)

	count, err := target.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 1234, count)

	got, err := target.Get(nil, 1, 1233)
	require.NoError(t, err)
	assert.Equal(t, []float32{1233}, got[0].Vector)
	_, ok, _ := target.Meta(docstore.MetaEmbeddingModel)
	assert.False(t, ok, "vectors were copied, no sentinel expected")
}

func TestMergeFromLimit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dep.db")
	writeCache(t, src, "dep", 30, false)

	target, err := docstore.OpenSQLiteMemory()
	require.NoError(t, err)
	defer target.Close()

	n, err := New(target, openRO, 8).MergeFrom(context.Background(), src, 21)
	require.NoError(t, err)
	assert.Equal(t, 21, n)
	got, err := target.Get(nil, 100, 0)
	require.NoError(t, err)
	require.Len(t, got, 21)
	assert.Equal(t, "dep-0020", got[20].ID)
}

func TestMergeWithoutVectorsSetsSentinel(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "dep.db")
	writeCache(t, src, "dep", 3, false)

	target, err := docstore.OpenSQLiteMemory()
	require.NoError(t, err)
	defer target.Close()

	_, err = New(pagedOnly{target}, openRO, 0).MergeFrom(context.Background(), src, 0)
	require.NoError(t, err)
	v, ok, err := target.Meta(docstore.MetaEmbeddingModel)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, docstore.NoEmbeddings, v)
}

func TestMergeAllRawCopiesFirstThenPages(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCacheDir(filepath.Join(dir, "cache"), BackendSQLite)
	require.NoError(t, err)
	writeCache(t, cache.Path("alpha-1.0"), "alpha", 10, false)
	writeCache(t, cache.Path("beta-2.0"), "beta", 5, false)
	require.NoError(t, os.WriteFile(filepath.Join(cache.Dir(), "notes.txt"), []byte("x"), 0o644))

	target, err := docstore.OpenSQLite(filepath.Join(dir, "project.db"))
	require.NoError(t, err)
	defer target.Close()

	got, err := New(target, openRO, 4).MergeAll(context.Background(), cache)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"alpha-1.0": 10, "beta-2.0": 5}, got)

	total, err := target.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 15, total)
	beta, err := target.Count(docstore.Filter{"module": "beta"})
	require.NoError(t, err)
	assert.Equal(t, 5, beta)
}

func TestMergeFromMissingSource(t *testing.T) {
	target, err := docstore.OpenSQLiteMemory()
	require.NoError(t, err)
	defer target.Close()
	_, err = New(pagedOnly{target}, openRO, 0).MergeFrom(context.Background(), filepath.Join(t.TempDir(), "nope.db"), 0)
	assert.Error(t, err)
}

func TestMergeFromBadgerCache(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCacheDir(dir, BackendBadger)
	require.NoError(t, err)

	src, err := docstore.OpenBadger(docstore.BadgerConfig{Path: cache.Path("dep-1.0")})
	require.NoError(t, err)
	require.NoError(t, src.AddBatch([]docstore.Record{
		{ID: "a", Attrs: map[string]any{"module": "dep"}},
		{ID: "b", Attrs: map[string]any{"module": "dep"}},
	}))
	require.NoError(t, src.Close())

	pkgs, err := cache.Packages()
	require.NoError(t, err)
	assert.Equal(t, []string{"dep-1.0"}, pkgs)

	target, err := docstore.OpenSQLiteMemory()
	require.NoError(t, err)
	defer target.Close()
	openBadger := func(path string) (docstore.Backend, error) {
		return docstore.OpenBadger(docstore.BadgerConfig{Path: path, ReadOnly: true})
	}
	n, err := New(pagedOnly{target}, openBadger, 0).MergeFrom(context.Background(), cache.Path("dep-1.0"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewCacheDirRejectsUnknownBackend(t *testing.T) {
	_, err := NewCacheDir(t.TempDir(), "chroma")
	assert.Error(t, err)
}
