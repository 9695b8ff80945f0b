package quantization

import (
	"context"
	"fmt"
	"io"

	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/internal/kmeans"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/persistence"
)

const (
	// Magic identifies PQ codebook artifacts (ASCII: "QPQC").
	Magic = 0x51505143
	// Version is the current artifact format version (v1.0.0).
	Version = 0x00010000

	// NumBits is the code width per subvector. Codes are single bytes.
	NumBits = 8
	// NumCentroids is the codebook size per subvector slot (2^NumBits).
	NumCentroids = 1 << NumBits

	flagResiduals = 1 << 0

	maxDimension = 1 << 16
)

// ProductQuantizer holds a trained product quantization codebook: M
// subvector slots, each with NumCentroids codewords of Dim/M values.
//
// Example: a 128-dim vector with M=16 compresses to 16 one-byte codes,
// a 32x reduction over float32.
type ProductQuantizer struct {
	// Codebook holds the codewords flattened slot-major: the codeword
	// for slot m, code c starts at (m*NumCentroids+c)*SubDim().
	Codebook []float32
	// Dim is the full vector dimension.
	Dim int
	// M is the number of subvector slots; each code is M bytes.
	M int
	// Metric is the distance metric the codebook was trained under.
	Metric distance.Metric
	// TrainedOnResiduals records whether the codebook was fit on
	// residuals against partition centroids rather than raw vectors.
	TrainedOnResiduals bool
}

// New creates a quantizer from a flattened codebook.
func New(codebook []float32, dim, m int, metric distance.Metric, trainedOnResiduals bool) (*ProductQuantizer, error) {
	pq := &ProductQuantizer{
		Codebook:           codebook,
		Dim:                dim,
		M:                  m,
		Metric:             metric,
		TrainedOnResiduals: trainedOnResiduals,
	}
	if err := pq.Validate(); err != nil {
		return nil, err
	}
	return pq, nil
}

// SubDim returns the dimension of each subvector slot.
func (pq *ProductQuantizer) SubDim() int {
	return pq.Dim / pq.M
}

// CodeSize returns the encoded size of one vector in bytes.
func (pq *ProductQuantizer) CodeSize() int {
	return pq.M
}

// SubCentroid returns the codeword for slot m, code c, aliasing the
// quantizer's storage.
func (pq *ProductQuantizer) SubCentroid(m, c int) []float32 {
	subDim := pq.SubDim()
	start := (m*NumCentroids + c) * subDim
	return pq.Codebook[start : start+subDim]
}

// Validate checks structural consistency.
func (pq *ProductQuantizer) Validate() error {
	if pq.Dim <= 0 || pq.Dim > maxDimension {
		return errdefs.Configf("pq: dimension %d out of range", pq.Dim)
	}
	if pq.M <= 0 {
		return errdefs.Configf("pq: %d subvectors out of range", pq.M)
	}
	if pq.Dim%pq.M != 0 {
		return errdefs.Configf("pq: dimension %d not divisible by %d subvectors", pq.Dim, pq.M)
	}
	if want := pq.M * NumCentroids * pq.SubDim(); len(pq.Codebook) != want {
		return errdefs.Configf("pq: codebook has %d values, want %d", len(pq.Codebook), want)
	}
	switch pq.Metric {
	case distance.MetricL2, distance.MetricCosine, distance.MetricDot:
	default:
		return errdefs.Configf("pq: metric %s not supported for float vectors", pq.Metric)
	}
	return nil
}

// Clone returns a deep copy.
func (pq *ProductQuantizer) Clone() *ProductQuantizer {
	c := *pq
	c.Codebook = append([]float32(nil), pq.Codebook...)
	return &c
}

// Encode quantizes vec into a fresh M-byte code.
func (pq *ProductQuantizer) Encode(vec []float32) ([]byte, error) {
	code := make([]byte, pq.M)
	if err := pq.EncodeInto(code, vec); err != nil {
		return nil, err
	}
	return code, nil
}

// EncodeInto quantizes vec into dst, which must be M bytes.
//
// Each subvector maps to its nearest codeword by squared L2 distance;
// for MetricCosine the caller must pass an L2-normalized vector.
func (pq *ProductQuantizer) EncodeInto(dst []byte, vec []float32) error {
	if len(vec) != pq.Dim {
		return &errdefs.ErrDimensionMismatch{Expected: pq.Dim, Actual: len(vec)}
	}
	if len(dst) != pq.M {
		return errdefs.Configf("pq: code buffer has %d bytes, want %d", len(dst), pq.M)
	}
	subDim := pq.SubDim()
	for m := 0; m < pq.M; m++ {
		sub := vec[m*subDim : (m+1)*subDim]
		slot := pq.Codebook[m*NumCentroids*subDim : (m+1)*NumCentroids*subDim]
		best, _ := kmeans.NearestCentroid(sub, slot, subDim)
		dst[m] = byte(best)
	}
	return nil
}

// Decode reconstructs an approximate vector from an M-byte code.
func (pq *ProductQuantizer) Decode(code []byte) ([]float32, error) {
	vec := make([]float32, pq.Dim)
	if err := pq.DecodeInto(vec, code); err != nil {
		return nil, err
	}
	return vec, nil
}

// DecodeInto reconstructs into dst, which must be Dim values.
//
// When TrainedOnResiduals is set the result is a residual; callers add
// the partition centroid back to recover the vector.
func (pq *ProductQuantizer) DecodeInto(dst []float32, code []byte) error {
	if len(code) != pq.M {
		return errdefs.Configf("pq: code has %d bytes, want %d", len(code), pq.M)
	}
	if len(dst) != pq.Dim {
		return &errdefs.ErrDimensionMismatch{Expected: pq.Dim, Actual: len(dst)}
	}
	subDim := pq.SubDim()
	for m, c := range code {
		copy(dst[m*subDim:(m+1)*subDim], pq.SubCentroid(m, int(c)))
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}

// WriteTo writes the quantizer in binary format.
//
// It matches the io.WriterTo interface for toolchain friendliness.
func (pq *ProductQuantizer) WriteTo(w io.Writer) (int64, error) {
	if err := pq.Validate(); err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	bw := persistence.NewBinaryWriter(cw)

	var flags uint16
	if pq.TrainedOnResiduals {
		flags |= flagResiduals
	}

	steps := []func() error{
		func() error { return bw.WriteUint32(Magic) },
		func() error { return bw.WriteUint32(Version) },
		func() error { return bw.WriteUint16(uint16(pq.Metric)) },
		func() error { return bw.WriteUint16(flags) },
		func() error { return bw.WriteUint32(uint32(pq.Dim)) },
		func() error { return bw.WriteUint32(uint32(pq.M)) },
		func() error { return bw.WriteUint32(NumBits) },
		func() error { return bw.WriteFloat32Slice(pq.Codebook) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// ReadFrom reads a quantizer written by WriteTo.
//
// It matches the io.ReaderFrom interface for toolchain friendliness.
func (pq *ProductQuantizer) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}
	br := persistence.NewBinaryReader(cr)

	magic, err := br.ReadUint32()
	if err != nil {
		return cr.n, err
	}
	if magic != Magic {
		return cr.n, fmt.Errorf("%w: got 0x%08x", persistence.ErrInvalidMagic, magic)
	}
	version, err := br.ReadUint32()
	if err != nil {
		return cr.n, err
	}
	if version != Version {
		return cr.n, fmt.Errorf("%w: got 0x%08x", persistence.ErrInvalidVersion, version)
	}

	metric, err := br.ReadUint16()
	if err != nil {
		return cr.n, err
	}
	flags, err := br.ReadUint16()
	if err != nil {
		return cr.n, err
	}
	dim, err := br.ReadUint32()
	if err != nil {
		return cr.n, err
	}
	m, err := br.ReadUint32()
	if err != nil {
		return cr.n, err
	}
	bits, err := br.ReadUint32()
	if err != nil {
		return cr.n, err
	}
	if bits != NumBits {
		return cr.n, fmt.Errorf("%w: %d-bit codes", persistence.ErrInvalidVersion, bits)
	}
	if dim == 0 || dim > maxDimension {
		return cr.n, errdefs.Configf("pq: dimension %d out of range", dim)
	}
	if m == 0 || dim%m != 0 {
		return cr.n, errdefs.Configf("pq: dimension %d not divisible by %d subvectors", dim, m)
	}

	pq.Metric = distance.Metric(metric)
	pq.Dim = int(dim)
	pq.M = int(m)
	pq.TrainedOnResiduals = flags&flagResiduals != 0
	pq.Codebook, err = br.ReadFloat32Slice(int(m) * NumCentroids * (int(dim) / int(m)))
	if err != nil {
		return cr.n, err
	}
	return cr.n, pq.Validate()
}

// SaveTo writes the quantizer to the store under name.
func (pq *ProductQuantizer) SaveTo(ctx context.Context, store objectstore.Store, name string) error {
	return persistence.SaveToStore(ctx, store, name, func(w io.Writer) error {
		_, err := pq.WriteTo(w)
		return err
	})
}

// Load reads a quantizer artifact from the store.
func Load(ctx context.Context, store objectstore.Store, name string) (*ProductQuantizer, error) {
	pq := &ProductQuantizer{}
	err := persistence.LoadFromStore(ctx, store, name, func(r io.Reader) error {
		_, err := pq.ReadFrom(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pq, nil
}
