package ivf

import (
	"context"
	"fmt"
	"io"

	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/internal/kmeans"
	"github.com/quiverdb/quiver/internal/math32"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/persistence"
)

const (
	// Magic identifies IVF model artifacts (ASCII: "QIVF").
	Magic = 0x51495646
	// Version is the current artifact format version (v1.0.0).
	Version = 0x00010000

	flagSealed = 1 << 0

	maxDimension  = 1 << 16
	maxPartitions = 1 << 24
)

// Model is a trained IVF partitioning: flattened centroid vectors plus,
// once an index has been written, the partition layout of the sealed
// artifact.
type Model struct {
	// Centroids holds NumPartitions() centroid vectors, flattened.
	Centroids []float32
	// Dim is the vector dimension.
	Dim int
	// Metric is the distance metric the centroids were trained under.
	Metric distance.Metric

	// Offsets[i] is the row offset of partition i's first entry in the
	// sealed index's entry region; empty until sealed.
	Offsets []uint64
	// Lengths[i] is the number of entries in partition i; empty until
	// sealed.
	Lengths []uint32
}

// New creates a model from flattened centroids.
func New(centroids []float32, dim int, metric distance.Metric) (*Model, error) {
	m := &Model{Centroids: centroids, Dim: dim, Metric: metric}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NumPartitions returns the partition count P.
func (m *Model) NumPartitions() int {
	if m.Dim == 0 {
		return 0
	}
	return len(m.Centroids) / m.Dim
}

// Centroid returns the centroid of partition p, aliasing the model's
// storage.
func (m *Model) Centroid(p int) []float32 {
	return m.Centroids[p*m.Dim : (p+1)*m.Dim]
}

// Validate checks structural consistency.
func (m *Model) Validate() error {
	if m.Dim <= 0 || m.Dim > maxDimension {
		return errdefs.Configf("ivf: dimension %d out of range", m.Dim)
	}
	if len(m.Centroids) == 0 || len(m.Centroids)%m.Dim != 0 {
		return errdefs.Configf("ivf: %d centroid values not divisible by dimension %d", len(m.Centroids), m.Dim)
	}
	if p := m.NumPartitions(); p > maxPartitions {
		return errdefs.Configf("ivf: %d partitions out of range", p)
	}
	switch m.Metric {
	case distance.MetricL2, distance.MetricCosine, distance.MetricDot:
	default:
		return errdefs.Configf("ivf: metric %s not supported for float vectors", m.Metric)
	}
	if len(m.Offsets) != len(m.Lengths) {
		return errdefs.Configf("ivf: %d offsets but %d lengths", len(m.Offsets), len(m.Lengths))
	}
	if len(m.Offsets) != 0 && len(m.Offsets) != m.NumPartitions() {
		return errdefs.Configf("ivf: sealed layout covers %d of %d partitions", len(m.Offsets), m.NumPartitions())
	}
	return nil
}

// Sealed reports whether the model carries the partition layout of a
// written index.
func (m *Model) Sealed() bool {
	return len(m.Offsets) > 0
}

// Clone returns a deep copy.
func (m *Model) Clone() *Model {
	c := &Model{Dim: m.Dim, Metric: m.Metric}
	c.Centroids = append([]float32(nil), m.Centroids...)
	if m.Offsets != nil {
		c.Offsets = append([]uint64(nil), m.Offsets...)
	}
	if m.Lengths != nil {
		c.Lengths = append([]uint32(nil), m.Lengths...)
	}
	return c
}

// Assign returns the partition of the centroid nearest to vec under the
// model's metric: squared L2 for MetricL2, highest dot product for
// MetricDot. For MetricCosine the caller must pass an L2-normalized
// vector, which makes the dot ordering agree with cosine.
func (m *Model) Assign(vec []float32) (uint32, error) {
	if len(vec) != m.Dim {
		return 0, &errdefs.ErrDimensionMismatch{Expected: m.Dim, Actual: len(vec)}
	}
	dist, err := distance.Provider(m.Metric)
	if err != nil {
		return 0, err
	}
	best, _ := kmeans.Nearest(vec, m.Centroids, m.Dim, dist)
	return uint32(best), nil
}

// Residual writes vec minus the centroid of partition p into dst.
func (m *Model) Residual(dst, vec []float32, p uint32) error {
	if len(vec) != m.Dim {
		return &errdefs.ErrDimensionMismatch{Expected: m.Dim, Actual: len(vec)}
	}
	if int(p) >= m.NumPartitions() {
		return errdefs.Configf("ivf: partition %d out of range (have %d)", p, m.NumPartitions())
	}
	math32.Sub(dst, vec, m.Centroid(int(p)))
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

// WriteTo writes the model in binary format.
//
// It matches the io.WriterTo interface for toolchain friendliness.
func (m *Model) WriteTo(w io.Writer) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	bw := persistence.NewBinaryWriter(cw)

	var flags uint16
	if m.Sealed() {
		flags |= flagSealed
	}

	steps := []func() error{
		func() error { return bw.WriteUint32(Magic) },
		func() error { return bw.WriteUint32(Version) },
		func() error { return bw.WriteUint16(uint16(m.Metric)) },
		func() error { return bw.WriteUint16(flags) },
		func() error { return bw.WriteUint32(uint32(m.Dim)) },
		func() error { return bw.WriteUint32(uint32(m.NumPartitions())) },
		func() error { return bw.WriteFloat32Slice(m.Centroids) },
	}
	if m.Sealed() {
		steps = append(steps,
			func() error { return bw.WriteUint64Slice(m.Offsets) },
			func() error { return bw.WriteUint32Slice(m.Lengths) },
		)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// ReadFrom reads a model written by WriteTo.
//
// It matches the io.ReaderFrom interface for toolchain friendliness.
func (m *Model) ReadFrom(r io.Reader) (int64, error) {
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
	parts, err := br.ReadUint32()
	if err != nil {
		return cr.n, err
	}
	if dim == 0 || dim > maxDimension {
		return cr.n, errdefs.Configf("ivf: dimension %d out of range", dim)
	}
	if parts == 0 || parts > maxPartitions {
		return cr.n, errdefs.Configf("ivf: %d partitions out of range", parts)
	}

	m.Metric = distance.Metric(metric)
	m.Dim = int(dim)
	m.Centroids, err = br.ReadFloat32Slice(int(parts) * int(dim))
	if err != nil {
		return cr.n, err
	}
	m.Offsets, m.Lengths = nil, nil

	if flags&flagSealed != 0 {
		if m.Offsets, err = br.ReadUint64Slice(int(parts)); err != nil {
			return cr.n, err
		}
		if m.Lengths, err = br.ReadUint32Slice(int(parts)); err != nil {
			return cr.n, err
		}
	}
	return cr.n, m.Validate()
}

// SaveTo writes the model to the store under name.
func (m *Model) SaveTo(ctx context.Context, store objectstore.Store, name string) error {
	return persistence.SaveToStore(ctx, store, name, func(w io.Writer) error {
		_, err := m.WriteTo(w)
		return err
	})
}

// Load reads a model artifact from the store.
func Load(ctx context.Context, store objectstore.Store, name string) (*Model, error) {
	m := &Model{}
	err := persistence.LoadFromStore(ctx, store, name, func(r io.Reader) error {
		_, err := m.ReadFrom(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
