package indexfile

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/ivf"
	"github.com/quiverdb/quiver/persistence"
	"github.com/quiverdb/quiver/quantization"
)

const (
	// SchemaVersion versions the metadata document. Readers reject
	// documents from a newer schema; added fields do not bump it.
	SchemaVersion = 1

	// KindIVFPQ tags the artifact kind in the metadata block.
	KindIVFPQ = "ivf_pq_index"
)

// Metadata is the JSON document stored between the entry region and the
// trailer. Centroid and codebook payloads are raw little-endian float32
// bytes (base64 in JSON) so the models round-trip bit-exactly.
type Metadata struct {
	SchemaVersion  int         `json:"schema_version"`
	Kind           string      `json:"kind"`
	Column         string      `json:"column"`
	Dim            int         `json:"dim"`
	DatasetVersion uint64      `json:"dataset_version"`
	Metric         string      `json:"metric"`
	IVF            IVFMetadata `json:"ivf"`
	PQ             PQMetadata  `json:"pq"`
}

// IVFMetadata carries the sealed coarse model: centroids plus the
// partition layout the merge produced.
type IVFMetadata struct {
	NumPartitions int      `json:"num_partitions"`
	Centroids     []byte   `json:"centroids"`
	Offsets       []uint64 `json:"offsets"`
	Lengths       []uint32 `json:"lengths"`
}

// PQMetadata carries the codebook.
type PQMetadata struct {
	NumSubvectors int    `json:"num_subvectors"`
	NumBits       int    `json:"num_bits"`
	Dim           int    `json:"dim"`
	Metric        string `json:"metric"`
	Codebook      []byte `json:"codebook"`
	Residuals     bool   `json:"residuals"`
}

func newMetadata(column string, datasetVersion uint64, sealed *ivf.Model, pq *quantization.ProductQuantizer) (Metadata, error) {
	centroids, err := floatBytes(sealed.Centroids)
	if err != nil {
		return Metadata{}, err
	}
	codebook, err := floatBytes(pq.Codebook)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		SchemaVersion:  SchemaVersion,
		Kind:           KindIVFPQ,
		Column:         column,
		Dim:            sealed.Dim,
		DatasetVersion: datasetVersion,
		Metric:         sealed.Metric.String(),
		IVF: IVFMetadata{
			NumPartitions: sealed.NumPartitions(),
			Centroids:     centroids,
			Offsets:       append([]uint64(nil), sealed.Offsets...),
			Lengths:       append([]uint32(nil), sealed.Lengths...),
		},
		PQ: PQMetadata{
			NumSubvectors: pq.M,
			NumBits:       quantization.NumBits,
			Dim:           pq.Dim,
			Metric:        pq.Metric.String(),
			Codebook:      codebook,
			Residuals:     pq.TrainedOnResiduals,
		},
	}, nil
}

// models rebuilds the coarse model and quantizer recorded in the
// document, revalidating everything a hand-edited or corrupt document
// could get wrong.
func (md *Metadata) models() (*ivf.Model, *quantization.ProductQuantizer, error) {
	if md.SchemaVersion > SchemaVersion {
		return nil, nil, fmt.Errorf("%w: metadata schema %d", persistence.ErrInvalidVersion, md.SchemaVersion)
	}
	if md.Kind != KindIVFPQ {
		return nil, nil, errdefs.Configf("indexfile: unknown index kind %q", md.Kind)
	}
	metric, err := distance.Parse(md.Metric)
	if err != nil {
		return nil, nil, err
	}
	pqMetric, err := distance.Parse(md.PQ.Metric)
	if err != nil {
		return nil, nil, err
	}
	if metric != pqMetric {
		return nil, nil, &errdefs.ErrModelConsistency{Property: "metric", IVF: metric.String(), PQ: pqMetric.String()}
	}
	if md.PQ.Dim != md.Dim {
		return nil, nil, &errdefs.ErrModelConsistency{Property: "dimension", IVF: strconv.Itoa(md.Dim), PQ: strconv.Itoa(md.PQ.Dim)}
	}
	if md.PQ.NumBits != quantization.NumBits {
		return nil, nil, fmt.Errorf("%w: %d-bit codes", persistence.ErrInvalidVersion, md.PQ.NumBits)
	}
	if md.PQ.NumSubvectors < 1 {
		return nil, nil, errdefs.Configf("indexfile: metadata names %d subvectors", md.PQ.NumSubvectors)
	}

	centroids, err := parseFloats(md.IVF.Centroids, md.IVF.NumPartitions*md.Dim)
	if err != nil {
		return nil, nil, fmt.Errorf("indexfile: centroid payload: %w", err)
	}
	model, err := ivf.New(centroids, md.Dim, metric)
	if err != nil {
		return nil, nil, err
	}
	model.Offsets = append([]uint64(nil), md.IVF.Offsets...)
	model.Lengths = append([]uint32(nil), md.IVF.Lengths...)
	if err := model.Validate(); err != nil {
		return nil, nil, err
	}

	// M*(D/M) codewords of 256 entries flatten to 256*D values.
	codebook, err := parseFloats(md.PQ.Codebook, quantization.NumCentroids*md.Dim)
	if err != nil {
		return nil, nil, fmt.Errorf("indexfile: codebook payload: %w", err)
	}
	pq, err := quantization.New(codebook, md.PQ.Dim, md.PQ.NumSubvectors, pqMetric, md.PQ.Residuals)
	if err != nil {
		return nil, nil, err
	}
	return model, pq, nil
}

func floatBytes(vec []float32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(vec) * 4)
	bw := persistence.NewBinaryWriter(&buf)
	if err := bw.WriteFloat32Slice(vec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseFloats(b []byte, count int) ([]float32, error) {
	if count < 0 || len(b) != count*4 {
		return nil, errdefs.Configf("%d bytes for %d float32 values", len(b), count)
	}
	br := persistence.NewBinaryReader(bytes.NewReader(b))
	return br.ReadFloat32Slice(count)
}
