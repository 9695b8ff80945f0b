// Package testutil provides deterministic data generators for pipeline
// tests. Vectors are produced in the flattened row-major layout the
// dataset packages use.
package testutil

import (
	"math"
	"math/rand"
	"sync"

	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/internal/math32"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniform fills dst with random values in range [0, 1).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FillUniformRange fills dst with random values in range [minVal, maxVal).
func (r *RNG) FillUniformRange(dst []float32, minVal, maxVal float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float32()*span
	}
}

// UniformVectors generates num flattened dim-dimensional vectors with
// values in range [0, 1).
func (r *RNG) UniformVectors(num, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range data {
		data[i] = r.rand.Float32()
	}
	return data
}

// GaussianVectors generates num flattened dim-dimensional vectors with
// values from a standard normal distribution.
func (r *RNG) GaussianVectors(num, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := range data {
		data[i] = float32(r.rand.NormFloat64())
	}
	return data
}

// UnitVectors generates num flattened L2-normalized vectors (on the
// hypersphere). Uses Gaussian draws for uniform direction.
func (r *RNG) UnitVectors(num, dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	for i := 0; i < num; i++ {
		vec := data[i*dim : (i+1)*dim]
		r.fillUnitLocked(vec)
	}
	return data
}

// UnitVector generates a single L2-normalized random vector.
func (r *RNG) UnitVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vec := make([]float32, dim)
	r.fillUnitLocked(vec)
	return vec
}

func (r *RNG) fillUnitLocked(vec []float32) {
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		norm = 1
	}
	math32.ScaleInPlace(vec, float32(1.0/math.Sqrt(norm)))
}

// ClusteredVectors generates clusters*perCluster flattened vectors
// around unit-vector centroids with Gaussian spread, along with each
// vector's cluster id. Rows of the same cluster are contiguous. Useful
// for exercising k-means convergence on separable data.
func (r *RNG) ClusteredVectors(clusters, perCluster, dim int, spread float32) (vectors []float32, assignment []int) {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	num := clusters * perCluster
	vectors = make([]float32, num*dim)
	assignment = make([]int, num)

	for i := 0; i < num; i++ {
		cluster := i / perCluster
		centroid := centroids[cluster*dim : (cluster+1)*dim]
		vec := vectors[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		assignment[i] = cluster
	}
	return vectors, assignment
}

// ClusteredDataset builds an in-memory dataset whose column holds
// clusters*perCluster clustered vectors split across fragments of
// fragmentRows rows each (the last fragment may be short).
func (r *RNG) ClusteredDataset(column string, dim, clusters, perCluster, fragmentRows int, spread float32) (*dataset.Memory, error) {
	vectors, _ := r.ClusteredVectors(clusters, perCluster, dim, spread)
	return NewDataset(column, dim, vectors, fragmentRows)
}

// NewDataset builds an in-memory dataset over the given flattened
// vectors, split across fragments of fragmentRows rows each.
func NewDataset(column string, dim int, vectors []float32, fragmentRows int) (*dataset.Memory, error) {
	ds, err := dataset.NewMemory(dataset.ColumnInfo{Name: column, Dim: dim})
	if err != nil {
		return nil, err
	}

	rows := len(vectors) / dim
	if fragmentRows <= 0 {
		fragmentRows = rows
	}
	for start := 0; start < rows; start += fragmentRows {
		end := start + fragmentRows
		if end > rows {
			end = rows
		}
		_, err := ds.AppendFragment(map[string][]float32{
			column: vectors[start*dim : end*dim],
		})
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}
