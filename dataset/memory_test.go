package dataset

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDataset(t *testing.T, elem ElemType) *Memory {
	t.Helper()
	ds, err := NewMemory(ColumnInfo{Name: "embedding", Dim: 2, ElemType: elem})
	require.NoError(t, err)
	return ds
}

func TestMemory_SchemaValidation(t *testing.T) {
	_, err := NewMemory()
	assert.Error(t, err)

	_, err = NewMemory(ColumnInfo{Name: "", Dim: 2})
	assert.Error(t, err)

	_, err = NewMemory(ColumnInfo{Name: "v", Dim: 0})
	assert.Error(t, err)

	_, err = NewMemory(
		ColumnInfo{Name: "v", Dim: 2},
		ColumnInfo{Name: "v", Dim: 4},
	)
	assert.Error(t, err)
}

func TestMemory_AppendFragment(t *testing.T) {
	ds := newTestDataset(t, Float32)

	id, err := ds.AppendFragment(map[string][]float32{
		"embedding": {1, 2, 3, 4},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)

	id, err = ds.AppendFragment(map[string][]float32{
		"embedding": {5, 6},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), id)

	count, err := ds.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)
	assert.Equal(t, []uint32{0, 1}, ds.Fragments())

	// Missing column.
	_, err = ds.AppendFragment(map[string][]float32{})
	assert.Error(t, err)

	// Not divisible by dim.
	_, err = ds.AppendFragment(map[string][]float32{"embedding": {1, 2, 3}})
	assert.Error(t, err)

	// Unknown column.
	_, err = ds.AppendFragment(map[string][]float32{
		"embedding": {1, 2},
		"other":     {1, 2},
	})
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestMemory_VersionAdvances(t *testing.T) {
	ds := newTestDataset(t, Float32)
	v0 := ds.Version()

	_, err := ds.AppendFragment(map[string][]float32{"embedding": {1, 2}})
	require.NoError(t, err)
	v1 := ds.Version()
	assert.Greater(t, v1, v0)

	require.NoError(t, ds.Delete(MakeRowID(0, 0)))
	assert.Greater(t, ds.Version(), v1)
}

func TestMemory_ScanAllFragments(t *testing.T) {
	ds := newTestDataset(t, Float32)
	_, err := ds.AppendFragment(map[string][]float32{"embedding": {1, 2, 3, 4}})
	require.NoError(t, err)
	_, err = ds.AppendFragment(map[string][]float32{"embedding": {5, 6}})
	require.NoError(t, err)

	ctx := context.Background()
	sc, err := ds.Scan(ctx, ScanOptions{Column: "embedding", BatchSize: 2})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{MakeRowID(0, 0), MakeRowID(0, 1)}, batch.RowIDs)
	assert.Equal(t, []float32{1, 2, 3, 4}, batch.Vectors)
	assert.Equal(t, 2, batch.Dim)

	batch, err = sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{MakeRowID(1, 0)}, batch.RowIDs)
	assert.Equal(t, []float32{5, 6}, batch.Vectors)

	_, err = sc.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemory_ScanFragmentSubset(t *testing.T) {
	ds := newTestDataset(t, Float32)
	for i := 0; i < 3; i++ {
		_, err := ds.AppendFragment(map[string][]float32{
			"embedding": {float32(i), float32(i)},
		})
		require.NoError(t, err)
	}

	ctx := context.Background()
	sc, err := ds.Scan(ctx, ScanOptions{Column: "embedding", Fragments: []uint32{2, 0}})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{MakeRowID(0, 0), MakeRowID(2, 0)}, batch.RowIDs)
	assert.Equal(t, []float32{0, 0, 2, 2}, batch.Vectors)

	_, err = sc.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	_, err = ds.Scan(ctx, ScanOptions{Column: "embedding", Fragments: []uint32{9}})
	assert.ErrorIs(t, err, ErrFragmentNotFound)

	_, err = ds.Scan(ctx, ScanOptions{Column: "missing"})
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestMemory_ScanSkipsDeleted(t *testing.T) {
	ds := newTestDataset(t, Float32)
	_, err := ds.AppendFragment(map[string][]float32{"embedding": {1, 1, 2, 2, 3, 3}})
	require.NoError(t, err)

	require.NoError(t, ds.Delete(MakeRowID(0, 1)))

	count, err := ds.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	ctx := context.Background()
	sc, err := ds.Scan(ctx, ScanOptions{Column: "embedding"})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{MakeRowID(0, 0), MakeRowID(0, 2)}, batch.RowIDs)
	assert.Equal(t, []float32{1, 1, 3, 3}, batch.Vectors)

	// Deleting an unknown row fails.
	assert.Error(t, ds.Delete(MakeRowID(7, 0)))
	assert.Error(t, ds.Delete(MakeRowID(0, 99)))
}

func TestMemory_Float16Widening(t *testing.T) {
	ds := newTestDataset(t, Float16)
	_, err := ds.AppendFragment(map[string][]float32{"embedding": {1.5, -0.25, 2, 1024}})
	require.NoError(t, err)

	ctx := context.Background()
	sc, err := ds.Scan(ctx, ScanOptions{Column: "embedding"})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	// All inputs are exactly representable in half precision.
	assert.Equal(t, []float32{1.5, -0.25, 2, 1024}, batch.Vectors)
}

func TestMemory_ScanContextCancel(t *testing.T) {
	ds := newTestDataset(t, Float32)
	_, err := ds.AppendFragment(map[string][]float32{"embedding": {1, 2}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sc, err := ds.Scan(ctx, ScanOptions{Column: "embedding"})
	require.NoError(t, err)
	defer sc.Close()

	cancel()
	_, err = sc.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_ScannerIsolatedFromLaterDeletes(t *testing.T) {
	ds := newTestDataset(t, Float32)
	_, err := ds.AppendFragment(map[string][]float32{"embedding": {1, 1, 2, 2}})
	require.NoError(t, err)

	ctx := context.Background()
	sc, err := ds.Scan(ctx, ScanOptions{Column: "embedding"})
	require.NoError(t, err)
	defer sc.Close()

	require.NoError(t, ds.Delete(MakeRowID(0, 0)))

	batch, err := sc.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, batch.RowIDs, 2)
}

func TestMemory_Indices(t *testing.T) {
	ds := newTestDataset(t, Float32)
	store := ds.Indices()
	require.NotNil(t, store)
	assert.Same(t, store, ds.Indices())
}

func TestRowID_RoundTrip(t *testing.T) {
	cases := []struct {
		frag, off uint32
	}{
		{0, 0},
		{1, 2},
		{42, 1 << 20},
		{1<<32 - 1, 1<<32 - 1},
	}
	for _, tc := range cases {
		id := MakeRowID(tc.frag, tc.off)
		frag, off := SplitRowID(id)
		assert.Equal(t, tc.frag, frag)
		assert.Equal(t, tc.off, off)
	}
	assert.Equal(t, uint64(1)<<32|2, MakeRowID(1, 2))
}
