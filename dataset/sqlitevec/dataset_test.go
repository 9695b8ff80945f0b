package sqlitevec

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/dataset"
)

func openTestDataset(t *testing.T) *Dataset {
	t.Helper()
	ctx := context.Background()
	ds, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })

	require.NoError(t, ds.CreateColumn(ctx, dataset.ColumnInfo{
		Name: "embedding", Dim: 2, ElemType: dataset.Float32,
	}))
	return ds
}

func TestDataset_CreateColumn(t *testing.T) {
	ctx := context.Background()
	ds, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, ds.CreateColumn(ctx, dataset.ColumnInfo{Name: "v", Dim: 4}))

	// Duplicate and invalid columns fail.
	assert.Error(t, ds.CreateColumn(ctx, dataset.ColumnInfo{Name: "v", Dim: 4}))
	assert.Error(t, ds.CreateColumn(ctx, dataset.ColumnInfo{Name: "", Dim: 4}))
	assert.Error(t, ds.CreateColumn(ctx, dataset.ColumnInfo{Name: "w", Dim: 0}))

	info, err := ds.Column("v")
	require.NoError(t, err)
	assert.Equal(t, 4, info.Dim)

	_, err = ds.Column("missing")
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)

	// No columns after data exists.
	_, err = ds.AppendFragment(ctx, map[string][]float32{"v": {1, 2, 3, 4}})
	require.NoError(t, err)
	assert.Error(t, ds.CreateColumn(ctx, dataset.ColumnInfo{Name: "w", Dim: 2}))
}

func TestDataset_AppendAndScan(t *testing.T) {
	ds := openTestDataset(t)
	ctx := context.Background()

	id, err := ds.AppendFragment(ctx, map[string][]float32{"embedding": {1, 2, 3, 4}})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	id, err = ds.AppendFragment(ctx, map[string][]float32{"embedding": {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	count, err := ds.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
	assert.Equal(t, []uint32{0, 1}, ds.Fragments())

	sc, err := ds.Scan(ctx, dataset.ScanOptions{Column: "embedding", BatchSize: 2})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{dataset.MakeRowID(0, 0), dataset.MakeRowID(0, 1)}, batch.RowIDs)
	assert.Equal(t, []float32{1, 2, 3, 4}, batch.Vectors)

	batch, err = sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{dataset.MakeRowID(1, 0)}, batch.RowIDs)
	assert.Equal(t, []float32{5, 6}, batch.Vectors)

	_, err = sc.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDataset_ScanFragmentSubset(t *testing.T) {
	ds := openTestDataset(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ds.AppendFragment(ctx, map[string][]float32{
			"embedding": {float32(i), float32(i)},
		})
		require.NoError(t, err)
	}

	sc, err := ds.Scan(ctx, dataset.ScanOptions{Column: "embedding", Fragments: []uint32{2, 0}})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{dataset.MakeRowID(0, 0), dataset.MakeRowID(2, 0)}, batch.RowIDs)
	assert.Equal(t, []float32{0, 0, 2, 2}, batch.Vectors)

	_, err = ds.Scan(ctx, dataset.ScanOptions{Column: "embedding", Fragments: []uint32{9}})
	assert.ErrorIs(t, err, dataset.ErrFragmentNotFound)
}

func TestDataset_DeleteSkippedInScan(t *testing.T) {
	ds := openTestDataset(t)
	ctx := context.Background()

	_, err := ds.AppendFragment(ctx, map[string][]float32{"embedding": {1, 1, 2, 2, 3, 3}})
	require.NoError(t, err)

	require.NoError(t, ds.Delete(ctx, dataset.MakeRowID(0, 1)))

	count, err := ds.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	sc, err := ds.Scan(ctx, dataset.ScanOptions{Column: "embedding"})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{dataset.MakeRowID(0, 0), dataset.MakeRowID(0, 2)}, batch.RowIDs)
	assert.Equal(t, []float32{1, 1, 3, 3}, batch.Vectors)

	assert.Error(t, ds.Delete(ctx, dataset.MakeRowID(5, 0)))
}

func TestDataset_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	ds, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, ds.CreateColumn(ctx, dataset.ColumnInfo{Name: "embedding", Dim: 2}))
	_, err = ds.AppendFragment(ctx, map[string][]float32{"embedding": {1, 2, 3, 4}})
	require.NoError(t, err)
	require.NoError(t, ds.Delete(ctx, dataset.MakeRowID(0, 0)))
	wantVersion := ds.Version()
	require.NoError(t, ds.Close())

	ds, err = Open(ctx, path)
	require.NoError(t, err)
	defer ds.Close()

	assert.Equal(t, wantVersion, ds.Version())
	assert.Equal(t, []uint32{0}, ds.Fragments())

	count, err := ds.CountRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	sc, err := ds.Scan(ctx, dataset.ScanOptions{Column: "embedding"})
	require.NoError(t, err)
	defer sc.Close()
	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, batch.Vectors)
}

func TestDataset_Float16Column(t *testing.T) {
	ctx := context.Background()
	ds, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer ds.Close()

	require.NoError(t, ds.CreateColumn(ctx, dataset.ColumnInfo{
		Name: "embedding", Dim: 4, ElemType: dataset.Float16,
	}))
	_, err = ds.AppendFragment(ctx, map[string][]float32{"embedding": {1.5, -0.25, 2, 1024}})
	require.NoError(t, err)

	sc, err := ds.Scan(ctx, dataset.ScanOptions{Column: "embedding"})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -0.25, 2, 1024}, batch.Vectors)
}

func TestDataset_IndicesStore(t *testing.T) {
	ctx := context.Background()
	ds, err := Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer ds.Close()

	store := ds.Indices()
	require.NotNil(t, store)
	require.NoError(t, store.Put(ctx, "probe", []byte("x")))

	blob, err := store.Open(ctx, "probe")
	require.NoError(t, err)
	defer blob.Close()
	assert.Equal(t, int64(1), blob.Size())
}

func TestEncodeDecodeVector(t *testing.T) {
	vec := []float32{0, 1.5, -3.25, 42}

	b := encodeVector(vec, dataset.Float32)
	assert.Len(t, b, 16)
	got, err := decodeVector(b, dataset.Float32)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	b = encodeVector(vec, dataset.Float16)
	assert.Len(t, b, 8)
	got, err = decodeVector(b, dataset.Float16)
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	_, err = decodeVector([]byte{1, 2, 3}, dataset.Float32)
	assert.Error(t, err)
	_, err = decodeVector([]byte{1, 2, 3}, dataset.Float16)
	assert.Error(t, err)
}
