package testutil

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/dataset"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformVectors(8, 32)

	assert.Equal(t, 8*32, len(v))
	for _, val := range v {
		assert.GreaterOrEqual(t, val, float32(0.0))
		assert.Less(t, val, float32(1.0))
	}
}

func TestFillUniformRange(t *testing.T) {
	rng := NewRNG(4711)

	v := make([]float32, 256)
	rng.FillUniformRange(v, -1, 1)

	for _, val := range v {
		assert.GreaterOrEqual(t, val, float32(-1.0))
		assert.Less(t, val, float32(1.0))
	}
}

func TestUnitVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UnitVectors(8, 32)

	assert.Equal(t, 8*32, len(v))

	// Check normalization
	for i := 0; i < 8; i++ {
		var sum float32
		for _, val := range v[i*32 : (i+1)*32] {
			sum += val * val
		}
		assert.InDelta(t, float32(1.0), sum, 1e-5)
	}
}

func TestClusteredVectors(t *testing.T) {
	rng := NewRNG(4711)

	vectors, assignment := rng.ClusteredVectors(5, 20, 32, 0.1)

	assert.Equal(t, 100*32, len(vectors))
	assert.Equal(t, 100, len(assignment))
	assert.Equal(t, 0, assignment[0])
	assert.Equal(t, 4, assignment[99])
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.UniformVectors(1, 10)

	rng.Reset()
	v2 := rng.UniformVectors(1, 10)

	assert.Equal(t, v1, v2)
}

func TestNewDataset(t *testing.T) {
	rng := NewRNG(42)
	vectors := rng.UniformVectors(25, 4)

	ds, err := NewDataset("embedding", 4, vectors, 10)
	require.NoError(t, err)

	// 25 rows in fragments of 10 -> 10, 10, 5.
	assert.Equal(t, []uint32{0, 1, 2}, ds.Fragments())

	rows, err := ds.CountRows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(25), rows)

	sc, err := ds.Scan(context.Background(), dataset.ScanOptions{
		Column:    "embedding",
		Fragments: []uint32{2},
	})
	require.NoError(t, err)
	defer sc.Close()

	batch, err := sc.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Len())
	assert.Equal(t, vectors[20*4:], batch.Vectors)

	_, err = sc.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}
