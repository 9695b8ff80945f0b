// Package sampling provides bounded-memory uniform sampling over streamed
// vector batches. Training stages use it to draw their k-means inputs from
// columns that do not fit in memory.
package sampling

import (
	"fmt"
	"math/rand"
)

// Reservoir is a classic reservoir sampler (Algorithm R) over fixed-size
// vectors. It holds at most Capacity vectors regardless of how many are
// offered, each retained with equal probability. Runs are deterministic for
// a fixed seed.
type Reservoir struct {
	dim      int
	capacity int
	seen     uint64
	data     []float32
	rng      *rand.Rand
}

// NewReservoir creates a sampler for vectors of the given dimension that
// retains at most capacity of them.
func NewReservoir(dim, capacity int, seed int64) (*Reservoir, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("sampling: dimension must be positive, got %d", dim)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("sampling: capacity must be positive, got %d", capacity)
	}

	return &Reservoir{
		dim:      dim,
		capacity: capacity,
		data:     make([]float32, 0, capacity*dim),
		rng:      rand.New(rand.NewSource(seed)), // nolint gosec
	}, nil
}

// Add offers a single vector. The vector is copied.
func (r *Reservoir) Add(vec []float32) {
	if len(r.data) < r.capacity*r.dim {
		r.data = append(r.data, vec...)
		r.seen++
		return
	}

	// Replace slot j with probability capacity/seen
	j := r.rng.Int63n(int64(r.seen + 1))
	if j < int64(r.capacity) {
		copy(r.data[int(j)*r.dim:(int(j)+1)*r.dim], vec)
	}
	r.seen++
}

// AddBatch offers a flattened batch of vectors.
func (r *Reservoir) AddBatch(vecs []float32) error {
	if len(vecs)%r.dim != 0 {
		return fmt.Errorf("sampling: %d values do not divide into vectors of dimension %d", len(vecs), r.dim)
	}
	for i := 0; i < len(vecs); i += r.dim {
		r.Add(vecs[i : i+r.dim])
	}
	return nil
}

// Vectors returns the flattened sample. The slice aliases internal storage
// and must not be retained across further Add calls.
func (r *Reservoir) Vectors() []float32 {
	return r.data
}

// Len returns the number of vectors currently held.
func (r *Reservoir) Len() int {
	return len(r.data) / r.dim
}

// Seen returns how many vectors were offered in total.
func (r *Reservoir) Seen() uint64 {
	return r.seen
}
