// Package distance provides vector distance calculations and the metric
// vocabulary shared by the index build stages.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricCosine: Cosine similarity (normalized dot product)
//   - MetricDot: Dot product (inner product)
//   - MetricHamming: Bit distance on byte slices
//
// Metric names ("l2", "cosine", "dot", "hamming") are stable wire names:
// Parse reads them from configuration, String writes them into artifact
// metadata, and the two round-trip.
//
// # Usage
//
//	m, err := distance.Parse("l2")
//	dist := distance.SquaredL2(a, b)
//	sim := distance.Dot(a, b)
package distance
