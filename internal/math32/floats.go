// Package math32 provides float32 vector kernels used by the training and
// encoding stages. This is an internal package - external users should use
// the distance package.
package math32

// Dot calculates the dot product of two vectors.
// Public for use by the distance package.
func Dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32

	n := len(a) &^ 3
	for i := 0; i < n; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}

	for i := n; i < len(a); i++ {
		s0 += a[i] * b[i]
	}

	return s0 + s1 + s2 + s3
}

// SquaredL2 calculates the squared L2 distance.
// Public for use by the distance package.
func SquaredL2(a, b []float32) float32 {
	var s0, s1, s2, s3 float32

	n := len(a) &^ 3
	for i := 0; i < n; i += 4 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
	}

	for i := n; i < len(a); i++ {
		d := a[i] - b[i]
		s0 += d * d
	}

	return s0 + s1 + s2 + s3
}

// ScaleInPlace multiplies all elements of a by scalar.
//
// This is primarily used by distance normalization and centroid averaging.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// Sub writes a-b into dst. All three slices must have the same length.
func Sub(dst, a, b []float32) {
	for i := range dst {
		dst[i] = a[i] - b[i]
	}
}

// AddInPlace adds b to a element-wise.
func AddInPlace(a, b []float32) {
	for i := range a {
		a[i] += b[i]
	}
}
