package quantization

import (
	"context"
	"fmt"
	"strconv"

	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/internal/kmeans"
	"github.com/quiverdb/quiver/internal/sampling"
	"github.com/quiverdb/quiver/ivf"
)

const (
	// DefaultSampleRate is the default number of training samples per
	// codeword.
	DefaultSampleRate = 256
	// DefaultMaxIters is the default k-means iteration cap per subvector
	// slot.
	DefaultMaxIters = 20
)

// TrainParams configures PQ codebook training.
type TrainParams struct {
	// NumSubvectors is the number of subvector slots M. Required, >= 1;
	// the column dimension must be divisible by it.
	NumSubvectors int
	// Metric selects the distance metric. Hamming is rejected: float
	// vector training supports l2, cosine and dot only.
	Metric distance.Metric
	// UseResiduals trains the codebook on residuals against the IVF
	// partition centroids instead of raw vectors. Requires an IVF model.
	UseResiduals bool
	// SampleRate scales the training sample: the trainer samples up to
	// SampleRate*NumCentroids rows. Defaults to DefaultSampleRate.
	SampleRate int
	// MaxTrainingRows caps the training sample regardless of SampleRate.
	// Zero means no extra cap.
	MaxTrainingRows int
	// MaxIters caps k-means iterations per subvector slot. Defaults to
	// DefaultMaxIters.
	MaxIters int
	// Tolerance stops a slot's k-means once the largest codeword movement
	// falls to or below it. Zero keeps iterating until assignments
	// stabilize.
	Tolerance float32
	// Seed makes sampling and codeword seeding deterministic. Slot m
	// seeds its k-means with Seed+m.
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
	if p.NumSubvectors < 1 {
		return errdefs.Configf("num_subvectors must be >= 1, got %d", p.NumSubvectors)
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

// Train samples the column and fits one 256-codeword codebook per
// subvector slot.
//
// The sample target is SampleRate*NumCentroids rows (capped by
// MaxTrainingRows). With UseResiduals set, each sample is replaced by its
// residual against the nearest IVF centroid before fitting; ivfModel may
// be nil otherwise. A non-nil ivfModel must agree with the column and
// params on dimension and metric.
func Train(ctx context.Context, ds dataset.Dataset, column string, params TrainParams, ivfModel *ivf.Model) (*ProductQuantizer, error) {
	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}
	if params.UseResiduals && ivfModel == nil {
		return nil, errdefs.Configf("residual training requires an ivf model")
	}

	info, err := ds.Column(column)
	if err != nil {
		return nil, fmt.Errorf("train pq: %w", err)
	}
	if info.Dim%params.NumSubvectors != 0 {
		return nil, errdefs.Configf("pq: dimension %d not divisible by %d subvectors", info.Dim, params.NumSubvectors)
	}
	if ivfModel != nil {
		if ivfModel.Dim != info.Dim {
			return nil, &errdefs.ErrModelConsistency{
				Property: "dimension",
				IVF:      strconv.Itoa(ivfModel.Dim),
				PQ:       strconv.Itoa(info.Dim),
			}
		}
		if ivfModel.Metric != params.Metric {
			return nil, &errdefs.ErrModelConsistency{
				Property: "metric",
				IVF:      ivfModel.Metric.String(),
				PQ:       params.Metric.String(),
			}
		}
	}

	target := params.SampleRate * NumCentroids
	if params.MaxTrainingRows > 0 && target > params.MaxTrainingRows {
		target = params.MaxTrainingRows
	}

	samples, err := sampling.SampleColumn(ctx, ds, column, info.Dim, target, params.Seed, params.BatchSize)
	if err != nil {
		return nil, err
	}

	n := len(samples) / info.Dim
	if n < NumCentroids {
		return nil, errdefs.Trainingf("sample of %d rows cannot seed %d codewords per subvector", n, NumCentroids)
	}

	if params.Metric == distance.MetricCosine {
		for i := 0; i < n; i++ {
			distance.NormalizeL2InPlace(samples[i*info.Dim : (i+1)*info.Dim])
		}
	}

	if params.UseResiduals {
		for i := 0; i < n; i++ {
			vec := samples[i*info.Dim : (i+1)*info.Dim]
			p, err := ivfModel.Assign(vec)
			if err != nil {
				return nil, fmt.Errorf("train pq: %w", err)
			}
			if err := ivfModel.Residual(vec, vec, p); err != nil {
				return nil, fmt.Errorf("train pq: %w", err)
			}
		}
	}

	subDim := info.Dim / params.NumSubvectors
	codebook := make([]float32, params.NumSubvectors*NumCentroids*subDim)
	sub := make([]float32, n*subDim)
	for m := 0; m < params.NumSubvectors; m++ {
		for i := 0; i < n; i++ {
			start := i*info.Dim + m*subDim
			copy(sub[i*subDim:(i+1)*subDim], samples[start:start+subDim])
		}

		// Sub-quantizers cluster under squared L2 regardless of metric:
		// cosine inputs were normalized above and residuals carry no unit
		// norm. Codes never reference a codeword the assigner skipped, so
		// a codeword left empty at convergence stays inert.
		result, err := kmeans.Train(ctx, sub, kmeans.Config{
			K:         NumCentroids,
			Dim:       subDim,
			Metric:    distance.MetricL2,
			MaxIters:  params.MaxIters,
			Tolerance: params.Tolerance,
			Seed:      params.Seed + int64(m),
		})
		if err != nil {
			return nil, fmt.Errorf("train pq: %w", err)
		}
		copy(codebook[m*NumCentroids*subDim:(m+1)*NumCentroids*subDim], result.Centroids)
	}

	return New(codebook, info.Dim, params.NumSubvectors, params.Metric, params.UseResiduals)
}
