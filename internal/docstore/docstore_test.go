package docstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendCase struct {
	name string
	open func(t *testing.T) Backend
}

func backends() []backendCase {
	return []backendCase{
		{"sqlite", func(t *testing.T) Backend {
			s, err := OpenSQLiteMemory()
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{"badger", func(t *testing.T) Backend {
			b, err := OpenBadger(BadgerConfig{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		}},
	}
}

func sample(n int, usageType string) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			ID:   fmt.Sprintf("%s-%03d", usageType, i),
			Text: fmt.Sprintf("%s: doc %d", usageType, i),
			Attrs: map[string]any{
				"usageType":    usageType,
				"calleeSymbol": fmt.Sprintf("m%d", i%3),
				"callerLine":   i,
			},
		}
	}
	return out
}

func TestBackendContract(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			b := bc.open(t)
			require.NoError(t, b.AddBatch(sample(9, "call")))
			require.NoError(t, b.AddBatch(sample(3, "decl")))

			total, err := b.Count(nil)
			require.NoError(t, err)
			assert.Equal(t, 12, total)

			calls, err := b.Count(Filter{"usageType": "call"})
			require.NoError(t, err)
			assert.Equal(t, 9, calls)

			got, err := b.Get(Filter{"usageType": "call", "calleeSymbol": "m1"}, 10, 0)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"call-001", "call-004", "call-007"}, ids(got))

			page, err := b.Get(nil, 4, 8)
			require.NoError(t, err)
			assert.Equal(t, []string{"call-008", "decl-000", "decl-001", "decl-002"}, ids(page))

			byLine, err := b.Get(Filter{"callerLine": 5}, 10, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"call-005"}, ids(byLine))
		})
	}
}

func TestBackendIgnoresKnownIDs(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			b := bc.open(t)
			require.NoError(t, b.AddBatch([]Record{{ID: "a", Text: "first", Attrs: map[string]any{}}}))
			require.NoError(t, b.AddBatch([]Record{{ID: "a", Text: "second", Attrs: map[string]any{}}, {ID: "b", Attrs: map[string]any{}}}))
			got, err := b.Get(nil, 10, 0)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "first", got[0].Text)
		})
	}
}

func TestBackendVectorsAndMeta(t *testing.T) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			b := bc.open(t)
			require.NoError(t, b.AddBatch([]Record{
				{ID: "v", Attrs: map[string]any{}, Vector: []float32{0.5, -1, 2}},
				{ID: "n", Attrs: map[string]any{}},
			}))
			got, err := b.Get(nil, 10, 0)
			require.NoError(t, err)
			assert.Equal(t, []float32{0.5, -1, 2}, got[0].Vector)
			assert.Nil(t, got[1].Vector)

			_, ok, err := b.Meta(MetaEmbeddingModel)
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, b.SetMeta(MetaEmbeddingModel, NoEmbeddings))
			v, ok, err := b.Meta(MetaEmbeddingModel)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, NoEmbeddings, v)
		})
	}
}

func TestSQLiteRejectsOddFilterKeys(t *testing.T) {
	s, err := OpenSQLiteMemory()
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Get(Filter{"x') OR 1=1 --": "y"}, 10, 0)
	assert.ErrorIs(t, err, ErrUnsupportedFilter)
}

func TestSQLiteReplicateFrom(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "dep.db")
	src, err := OpenSQLite(srcPath)
	require.NoError(t, err)
	require.NoError(t, src.AddBatch(sample(5, "call")))
	require.NoError(t, src.SetMeta(MetaStrategyVersion, "2"))
	require.NoError(t, src.Close())

	dst, err := OpenSQLite(filepath.Join(dir, "project.db"))
	require.NoError(t, err)
	defer dst.Close()
	empty, err := dst.Empty()
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, dst.ReplicateFrom(srcPath))
	n, err := dst.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	v, _, _ := dst.Meta(MetaStrategyVersion)
	assert.Equal(t, "2", v)

	ro, err := OpenSQLiteReadOnly(srcPath)
	require.NoError(t, err)
	defer ro.Close()
	got, err := ro.Get(Filter{"calleeSymbol": "m0"}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Error(t, ro.AddBatch(sample(1, "x")))
}

func TestBadgerReplicateFrom(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "dep")
	src, err := OpenBadger(BadgerConfig{Path: srcPath})
	require.NoError(t, err)
	require.NoError(t, src.AddBatch(sample(4, "call")))
	require.NoError(t, src.Close())

	dst, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, dst.ReplicateFrom(srcPath))

	n, err := dst.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// sequence continues after the copied documents
	require.NoError(t, dst.AddBatch(sample(1, "decl")))
	got, err := dst.Get(nil, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"call-000", "call-001", "call-002", "call-003", "decl-000"}, ids(got))
}

func TestFilterMatchesNumbersByValue(t *testing.T) {
	f := Filter{"line": 3}
	assert.True(t, f.Matches(map[string]any{"line": float64(3)}))
	assert.False(t, f.Matches(map[string]any{"line": "3"}))
	assert.False(t, f.Matches(map[string]any{}))
	assert.True(t, Filter{}.Matches(nil))
}

func ids(rs []Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
