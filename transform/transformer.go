package transform

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/ivf"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/quantization"
)

// Params configures one transform invocation.
type Params struct {
	// Column is the vector column to transform.
	Column string
	// BatchSize is the scan batch size. Defaults to
	// dataset.DefaultBatchSize.
	BatchSize int
	// Compression wraps the output record stream. Defaults to none.
	Compression Compression
	// Fragments optionally restricts the scan to a fragment subset; nil
	// scans the whole dataset.
	Fragments []uint32
}

// Result reports one completed transform.
type Result struct {
	// Rows is the number of records written.
	Rows int64
	// Output is the object name the records were written to.
	Output string
}

// Transformer assigns vectors to IVF partitions and PQ-encodes them.
// It is stateless across runs and safe for concurrent Run calls.
type Transformer struct {
	ivf *ivf.Model
	pq  *quantization.ProductQuantizer
}

// NewTransformer checks model agreement and returns a transformer.
// Residual encoding is applied automatically when the quantizer was
// trained on residuals.
func NewTransformer(ivfModel *ivf.Model, pq *quantization.ProductQuantizer) (*Transformer, error) {
	if ivfModel == nil || pq == nil {
		return nil, errdefs.Configf("transform: both an ivf model and a quantizer are required")
	}
	if err := ivfModel.Validate(); err != nil {
		return nil, err
	}
	if err := pq.Validate(); err != nil {
		return nil, err
	}
	if ivfModel.Dim != pq.Dim {
		return nil, &errdefs.ErrModelConsistency{
			Property: "dimension",
			IVF:      strconv.Itoa(ivfModel.Dim),
			PQ:       strconv.Itoa(pq.Dim),
		}
	}
	if ivfModel.Metric != pq.Metric {
		return nil, &errdefs.ErrModelConsistency{
			Property: "metric",
			IVF:      ivfModel.Metric.String(),
			PQ:       pq.Metric.String(),
		}
	}
	return &Transformer{ivf: ivfModel, pq: pq}, nil
}

// Run scans the column, assigns each vector to its nearest partition,
// PQ-encodes it and streams the records into one vector file. A failed
// run deletes its partial output, so retries start clean.
func (t *Transformer) Run(ctx context.Context, ds dataset.Dataset, store objectstore.Store, name string, params Params) (*Result, error) {
	if params.Column == "" {
		return nil, errdefs.Configf("transform: column is required")
	}
	if params.BatchSize < 0 {
		return nil, errdefs.Configf("batch_size must not be negative, got %d", params.BatchSize)
	}
	batchSize := params.BatchSize
	if batchSize == 0 {
		batchSize = dataset.DefaultBatchSize
	}

	info, err := ds.Column(params.Column)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	if info.Dim != t.ivf.Dim {
		return nil, &errdefs.ErrDimensionMismatch{Expected: t.ivf.Dim, Actual: info.Dim}
	}

	wb, err := store.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("transform: create %s: %w", name, err)
	}
	fw, err := NewFileWriter(wb, params.Compression, t.pq.M)
	if err != nil {
		_ = wb.Close()
		_ = store.Delete(ctx, name)
		return nil, err
	}

	if err := t.writeRecords(ctx, ds, fw, batchSize, params); err != nil {
		_ = fw.Close()
		_ = store.Delete(ctx, name)
		return nil, err
	}
	if err := fw.Close(); err != nil {
		_ = store.Delete(ctx, name)
		return nil, fmt.Errorf("transform: finalize %s: %w", name, err)
	}
	return &Result{Rows: fw.Count(), Output: name}, nil
}

func (t *Transformer) writeRecords(ctx context.Context, ds dataset.Dataset, fw *FileWriter, batchSize int, params Params) error {
	scanner, err := ds.Scan(ctx, dataset.ScanOptions{
		Column:    params.Column,
		BatchSize: batchSize,
		Fragments: params.Fragments,
	})
	if err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	defer scanner.Close()

	dim := t.ivf.Dim
	cosine := t.ivf.Metric == distance.MetricCosine
	vec := make([]float32, dim)
	code := make([]byte, t.pq.M)

	for {
		batch, err := scanner.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("transform: scan: %w", err)
		}
		if batch.Dim != dim {
			return &errdefs.ErrDimensionMismatch{Expected: dim, Actual: batch.Dim}
		}

		for i := 0; i < batch.Len(); i++ {
			// Work on a copy: normalization and residuals must not leak
			// back into the scan batch.
			copy(vec, batch.Vectors[i*dim:(i+1)*dim])
			if cosine {
				distance.NormalizeL2InPlace(vec)
			}

			p, err := t.ivf.Assign(vec)
			if err != nil {
				return err
			}
			if t.pq.TrainedOnResiduals {
				if err := t.ivf.Residual(vec, vec, p); err != nil {
					return err
				}
			}
			if err := t.pq.EncodeInto(code, vec); err != nil {
				return err
			}

			if err := fw.Append(Record{RowID: batch.RowIDs[i], PartitionID: p, Code: code}); err != nil {
				return fmt.Errorf("transform: append record: %w", err)
			}
		}
	}
}
