package kmeans

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/internal/math32"
)

// Config controls a single Lloyd's run.
type Config struct {
	// K is the number of centroids to produce.
	K int
	// Dim is the vector dimensionality.
	Dim int
	// Metric selects the assignment and update rules. Assignment uses the
	// metric's dissimilarity (squared L2 for MetricL2, negated dot product
	// for MetricDot). MetricCosine additionally switches to spherical
	// updates (mean followed by L2 renormalization); its vectors are
	// expected to be pre-normalized by the caller. All other metrics use
	// plain means.
	Metric distance.Metric
	// MaxIters bounds the number of assignment/update rounds.
	MaxIters int
	// Tolerance is the squared L2 centroid movement under which the run is
	// declared converged. Zero means "assignments stopped changing" only.
	Tolerance float32
	// Seed drives centroid initialization and empty-cluster reseeding.
	Seed int64
}

// Result holds the trained centroids together with the final cluster sizes.
type Result struct {
	// Centroids is flattened, K*Dim.
	Centroids []float32
	// Counts[j] is the number of input vectors assigned to centroid j after
	// the final update. A zero count marks a degenerate cluster.
	Counts []int
	// Iters is the number of completed iterations.
	Iters int
}

// Train runs Lloyd's algorithm over the flattened input vectors.
//
// Assignment uses the configured metric's dissimilarity; for cosine the
// caller normalizes inputs first, which makes the dot ordering equivalent
// to cosine ordering. Empty clusters are reseeded from random input
// vectors between iterations, but a cluster that is still empty after the
// final update is reported through Result.Counts rather than silently
// dropped.
func Train(ctx context.Context, vectors []float32, cfg Config) (*Result, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("kmeans: dimension must be positive, got %d", cfg.Dim)
	}
	if cfg.K <= 0 {
		return nil, fmt.Errorf("kmeans: k must be positive, got %d", cfg.K)
	}
	if len(vectors)%cfg.Dim != 0 {
		return nil, fmt.Errorf("kmeans: %d values do not divide into vectors of dimension %d", len(vectors), cfg.Dim)
	}

	n := len(vectors) / cfg.Dim
	if n < cfg.K {
		return nil, fmt.Errorf("kmeans: %d vectors cannot seed %d centroids", n, cfg.K)
	}

	dist, err := distance.Provider(cfg.Metric)
	if err != nil {
		return nil, fmt.Errorf("kmeans: %w", err)
	}

	dim, k := cfg.Dim, cfg.K
	rng := rand.New(rand.NewSource(cfg.Seed)) // nolint gosec

	centroids := make([]float32, k*dim)
	perm := rng.Perm(n)
	for i := 0; i < k; i++ {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	sums := make([]float32, k*dim)
	prev := make([]float32, dim)

	iters := 0
	for iter := 0; iter < cfg.MaxIters; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iters = iter + 1

		// Assignment step
		changed := false
		for i := 0; i < n; i++ {
			best, _ := Nearest(vectors[i*dim:(i+1)*dim], centroids, dim, dist)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}

		if !changed && iter > 0 {
			break
		}

		// Update step
		clear(sums)
		clear(counts)

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			math32.AddInPlace(sums[cluster*dim:(cluster+1)*dim], vectors[i*dim:(i+1)*dim])
			counts[cluster]++
		}

		var maxMove float32
		for j := 0; j < k; j++ {
			dst := centroids[j*dim : (j+1)*dim]
			copy(prev, dst)

			if counts[j] > 0 {
				copy(dst, sums[j*dim:(j+1)*dim])
				math32.ScaleInPlace(dst, 1/float32(counts[j]))
				if cfg.Metric == distance.MetricCosine {
					distance.NormalizeL2InPlace(dst)
				}
			} else {
				// Reseed empty cluster with a random point
				idx := rng.Intn(n)
				copy(dst, vectors[idx*dim:(idx+1)*dim])
			}

			if move := math32.SquaredL2(prev, dst); move > maxMove {
				maxMove = move
			}
		}

		if cfg.Tolerance > 0 && maxMove <= cfg.Tolerance {
			break
		}
	}

	// Final sizes against the trained centroids, so degenerate clusters are
	// visible to the caller.
	clear(counts)
	for i := 0; i < n; i++ {
		best, _ := Nearest(vectors[i*dim:(i+1)*dim], centroids, dim, dist)
		counts[best]++
	}

	return &Result{Centroids: centroids, Counts: counts, Iters: iters}, nil
}

// NearestCentroid returns the index of the centroid closest to vec under
// squared L2, along with the distance. Centroids are flattened.
func NearestCentroid(vec, centroids []float32, dim int) (int, float32) {
	return Nearest(vec, centroids, dim, math32.SquaredL2)
}

// Nearest returns the index of the centroid with the smallest
// dissimilarity to vec, along with that dissimilarity. Centroids are
// flattened; dist must order candidates smaller-is-nearer (see
// distance.Provider).
func Nearest(vec, centroids []float32, dim int, dist distance.Func) (int, float32) {
	k := len(centroids) / dim

	best := -1
	minDist := float32(math.MaxFloat32)
	for j := 0; j < k; j++ {
		d := dist(vec, centroids[j*dim:(j+1)*dim])
		if d < minDist {
			minDist = d
			best = j
		}
	}

	return best, minDist
}
