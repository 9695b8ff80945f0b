package ivf

import (
	"context"
	"fmt"

	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/internal/kmeans"
	"github.com/quiverdb/quiver/internal/sampling"
)

const (
	// DefaultSampleRate is the default number of training samples per
	// partition.
	DefaultSampleRate = 256
	// DefaultMaxIters is the default k-means iteration cap.
	DefaultMaxIters = 50
)

// TrainParams configures IVF training.
type TrainParams struct {
	// NumPartitions is the number of IVF partitions P. Required, >= 1.
	NumPartitions int
	// Metric selects the distance metric. Hamming is rejected: float
	// vector training supports l2, cosine and dot only.
	Metric distance.Metric
	// SampleRate scales the training sample: the trainer samples up to
	// SampleRate*NumPartitions rows. Defaults to DefaultSampleRate.
	SampleRate int
	// MaxTrainingRows caps the training sample regardless of SampleRate.
	// Zero means no extra cap.
	MaxTrainingRows int
	// MaxIters caps k-means iterations. Defaults to DefaultMaxIters.
	MaxIters int
	// Tolerance stops k-means once the largest centroid movement falls to
	// or below it. Zero keeps iterating until assignments stabilize.
	Tolerance float32
	// Seed makes sampling and centroid seeding deterministic. Training
	// with the same seed over the same dataset version reproduces the
	// same model.
	Seed int64
	// BatchSize is the scan batch size. Defaults to
	// dataset.DefaultBatchSize.
	BatchSize int
}

func (p TrainParams) withDefaults() TrainParams {
	if p.SampleRate == 0 {
		p.SampleRate = DefaultSampleRate
	}
	if p.MaxIters == 0 {
		p.MaxIters = DefaultMaxIters
	}
	if p.BatchSize == 0 {
		p.BatchSize = dataset.DefaultBatchSize
	}
	return p
}

func (p TrainParams) validate() error {
	if p.NumPartitions < 1 {
		return errdefs.Configf("num_partitions must be >= 1, got %d", p.NumPartitions)
	}
	if p.SampleRate < 0 {
		return errdefs.Configf("sample_rate must not be negative, got %d", p.SampleRate)
	}
	if p.MaxTrainingRows < 0 {
		return errdefs.Configf("max_training_rows must not be negative, got %d", p.MaxTrainingRows)
	}
	if p.MaxIters < 0 {
		return errdefs.Configf("max_iters must not be negative, got %d", p.MaxIters)
	}
	if p.BatchSize < 0 {
		return errdefs.Configf("batch_size must not be negative, got %d", p.BatchSize)
	}
	switch p.Metric {
	case distance.MetricL2, distance.MetricCosine, distance.MetricDot:
		return nil
	default:
		return errdefs.Configf("metric %s not supported for float vector training", p.Metric)
	}
}

// Train samples the column and clusters the sample into P partitions.
//
// The sample target is SampleRate*NumPartitions rows (capped by
// MaxTrainingRows); datasets smaller than the target are trained in full.
// Sampling is reservoir-based and deterministic for a given seed.
func Train(ctx context.Context, ds dataset.Dataset, column string, params TrainParams) (*Model, error) {
	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	info, err := ds.Column(column)
	if err != nil {
		return nil, fmt.Errorf("train ivf: %w", err)
	}

	target := params.SampleRate * params.NumPartitions
	if params.MaxTrainingRows > 0 && target > params.MaxTrainingRows {
		target = params.MaxTrainingRows
	}

	samples, err := sampling.SampleColumn(ctx, ds, column, info.Dim, target, params.Seed, params.BatchSize)
	if err != nil {
		return nil, err
	}

	n := len(samples) / info.Dim
	if n < params.NumPartitions {
		return nil, errdefs.Trainingf("sample of %d rows cannot seed %d partitions", n, params.NumPartitions)
	}

	if params.Metric == distance.MetricCosine {
		for i := 0; i < n; i++ {
			distance.NormalizeL2InPlace(samples[i*info.Dim : (i+1)*info.Dim])
		}
	}

	result, err := kmeans.Train(ctx, samples, kmeans.Config{
		K:         params.NumPartitions,
		Dim:       info.Dim,
		Metric:    params.Metric,
		MaxIters:  params.MaxIters,
		Tolerance: params.Tolerance,
		Seed:      params.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("train ivf: %w", err)
	}

	// A partition no sample maps to would leave a hole in the sealed
	// layout; report it instead of shipping a degenerate model.
	for p, count := range result.Counts {
		if count == 0 {
			return nil, &errdefs.ErrTraining{Reason: "empty partition after convergence", Partition: p}
		}
	}

	return New(result.Centroids, info.Dim, params.Metric)
}
