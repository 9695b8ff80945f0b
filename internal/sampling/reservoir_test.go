package sampling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservoir_UnderCapacity(t *testing.T) {
	r, err := NewReservoir(2, 10, 42)
	require.NoError(t, err)

	require.NoError(t, r.AddBatch([]float32{1, 2, 3, 4, 5, 6}))

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, uint64(3), r.Seen())
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, r.Vectors())
}

func TestReservoir_Capped(t *testing.T) {
	r, err := NewReservoir(1, 8, 42)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		r.Add([]float32{float32(i)})
	}

	assert.Equal(t, 8, r.Len())
	assert.Equal(t, uint64(1000), r.Seen())
	assert.Len(t, r.Vectors(), 8)
}

func TestReservoir_Deterministic(t *testing.T) {
	sample := func(seed int64) []float32 {
		r, err := NewReservoir(1, 16, seed)
		require.NoError(t, err)
		for i := 0; i < 500; i++ {
			r.Add([]float32{float32(i)})
		}
		out := make([]float32, len(r.Vectors()))
		copy(out, r.Vectors())
		return out
	}

	assert.Equal(t, sample(7), sample(7))
	assert.NotEqual(t, sample(7), sample(8))
}

func TestReservoir_Uniformity(t *testing.T) {
	// Each of 100 values should appear in roughly half of the trials when
	// sampling 50 out of 100. Loose bounds, fixed seeds.
	const trials = 200

	counts := make([]int, 100)
	for trial := 0; trial < trials; trial++ {
		r, err := NewReservoir(1, 50, int64(trial))
		require.NoError(t, err)
		for i := 0; i < 100; i++ {
			r.Add([]float32{float32(i)})
		}
		for _, v := range r.Vectors() {
			counts[int(v)]++
		}
	}

	for v, c := range counts {
		assert.Greater(t, c, trials/4, "value %d undersampled", v)
		assert.Less(t, c, 3*trials/4, "value %d oversampled", v)
	}
}

func TestReservoir_BadInput(t *testing.T) {
	_, err := NewReservoir(0, 10, 1)
	assert.Error(t, err)

	_, err = NewReservoir(4, 0, 1)
	assert.Error(t, err)

	r, err := NewReservoir(2, 10, 1)
	require.NoError(t, err)
	assert.Error(t, r.AddBatch([]float32{1, 2, 3}))
}
