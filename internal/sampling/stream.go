package sampling

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/errdefs"
)

// SampleColumn reservoir-samples up to target rows of a vector column and
// returns them flattened. Datasets smaller than target come back whole, in
// scan order. The same seed over the same dataset state yields the same
// sample.
func SampleColumn(ctx context.Context, ds dataset.Dataset, column string, dim, target int, seed int64, batchSize int) ([]float32, error) {
	res, err := NewReservoir(dim, target, seed)
	if err != nil {
		return nil, errdefs.Configf("sample: %s", err)
	}

	sc, err := ds.Scan(ctx, dataset.ScanOptions{Column: column, BatchSize: batchSize})
	if err != nil {
		return nil, fmt.Errorf("sample %q: %w", column, err)
	}
	defer sc.Close()

	for {
		batch, err := sc.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sample %q: %w", column, err)
		}
		if batch.Dim != dim || len(batch.Vectors) != batch.Len()*dim {
			return nil, &errdefs.ErrDimensionMismatch{Expected: dim, Actual: batch.Dim}
		}
		if err := res.AddBatch(batch.Vectors); err != nil {
			return nil, fmt.Errorf("sample %q: %w", column, err)
		}
	}
	return res.Vectors(), nil
}
