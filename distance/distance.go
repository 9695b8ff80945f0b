// Package distance provides the distance metrics used across index training,
// encoding and search. Metric names are stable wire names: they are parsed
// from configuration and written into index artifact metadata.
package distance

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
	"strings"

	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/internal/math32"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	return math32.Dot(a, b)
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	return math32.SquaredL2(a, b)
}

// NegDot calculates the negated dot product of two vectors, turning
// dot-product similarity into a dissimilarity: the higher the dot
// product, the smaller (more negative) the result.
// Assumes vectors are the same length (caller's responsibility).
func NegDot(a, b []float32) float32 {
	return -math32.Dot(a, b)
}

// Hamming calculates the Hamming distance between two byte slices.
// Assumes slices are the same length.
// Returns the count of differing bits as a float32.
func Hamming(a, b []byte) float32 {
	var n int
	for i := range a {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return float32(n)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := math32.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / float32(math.Sqrt(float64(norm2)))
	math32.ScaleInPlace(v, inv)
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricL2 Metric = iota
	MetricCosine
	MetricDot
	MetricHamming
)

// String returns the canonical wire name of the metric. The result round-trips
// through Parse and is what index artifacts record as their distance type.
func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricCosine:
		return "cosine"
	case MetricDot:
		return "dot"
	case MetricHamming:
		return "hamming"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Parse converts a metric wire name into a Metric. Matching is
// case-insensitive; "euclidean" is accepted as an alias for "l2".
func Parse(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "l2", "euclidean":
		return MetricL2, nil
	case "cosine":
		return MetricCosine, nil
	case "dot":
		return MetricDot, nil
	case "hamming":
		return MetricHamming, nil
	default:
		return 0, errdefs.Configf("unknown distance type %q", s)
	}
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// FuncBytes is a function type for distance calculation on byte slices.
type FuncBytes func(a, b []byte) float32

// Provider returns the dissimilarity function for the given metric:
// smaller always means nearer, so the result of one call orders
// candidates regardless of the metric.
//
// For MetricCosine the returned function assumes pre-normalized inputs and
// computes the negated dot product; callers that need cosine ordering must
// normalize first (see NormalizeL2InPlace).
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return SquaredL2, nil
	case MetricCosine, MetricDot:
		return NegDot, nil
	default:
		return nil, errdefs.Configf("unsupported metric for float32: %v", m)
	}
}

// ProviderBytes returns the distance function for the given metric on byte slices.
func ProviderBytes(m Metric) (FuncBytes, error) {
	switch m {
	case MetricHamming:
		return Hamming, nil
	default:
		return nil, errdefs.Configf("unsupported metric for bytes: %v", m)
	}
}
