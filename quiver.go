package quiver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/indexfile"
	"github.com/quiverdb/quiver/ivf"
	"github.com/quiverdb/quiver/ledger"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/quantization"
	"github.com/quiverdb/quiver/resource"
	"github.com/quiverdb/quiver/shuffle"
	"github.com/quiverdb/quiver/transform"
)

// Quiver is an IVF-PQ index build pipeline over a vector dataset. The
// zero value is not usable; construct one with New or NewBuilder.
//
// All stage methods are safe for concurrent use as long as they target
// distinct output names.
type Quiver struct {
	ds          dataset.Dataset
	store       objectstore.Store
	codec       codec.Codec
	metrics     MetricsCollector
	logger      *Logger
	controller  *resource.Controller
	ledger      ledger.Ledger
	seed        int64
	batchSize   int
	compression transform.Compression
}

// New creates a pipeline over ds. Artifacts are written to the
// dataset's index store unless WithStore overrides it.
func New(ds dataset.Dataset, optFns ...Option) (*Quiver, error) {
	if ds == nil {
		return nil, errdefs.Configf("quiver: a dataset is required")
	}

	opts := applyOptions(optFns)

	store := opts.store
	if store == nil {
		store = ds.Indices()
	}
	if store == nil {
		return nil, errdefs.Configf("quiver: dataset has no index store; provide one with WithStore")
	}
	if opts.controller != nil {
		store = resource.ThrottleStore(store, opts.controller)
	}

	comp, err := transform.ParseCompression(opts.compression)
	if err != nil {
		return nil, err
	}

	return &Quiver{
		ds:          ds,
		store:       store,
		codec:       opts.codec,
		metrics:     opts.metricsCollector,
		logger:      opts.logger,
		controller:  opts.controller,
		ledger:      opts.ledger,
		seed:        opts.seed,
		batchSize:   opts.batchSize,
		compression: comp,
	}, nil
}

// Dataset returns the dataset the pipeline reads from.
func (q *Quiver) Dataset() dataset.Dataset { return q.ds }

// Store returns the store artifacts are written to.
func (q *Quiver) Store() objectstore.Store { return q.store }

// FragmentName returns the object name for one fragment's transform
// output under prefix.
func FragmentName(prefix string, fragment uint32) string {
	return fmt.Sprintf("%s.fragment_%d", prefix, fragment)
}

// TrainIVFParams configures TrainIVF.
type TrainIVFParams struct {
	// Column is the vector column to train on.
	Column string
	// NumPartitions is the number of IVF partitions P. Required, >= 1.
	NumPartitions int
	// DistanceType selects the metric by wire name: "l2", "cosine" or
	// "dot". "hamming" is parsed but rejected by the trainer.
	DistanceType string
	// SampleRate scales the training sample: up to
	// SampleRate*NumPartitions rows. Defaults to ivf.DefaultSampleRate.
	SampleRate int
	// MaxTrainingRows caps the training sample regardless of SampleRate.
	MaxTrainingRows int
	// MaxIters caps k-means iterations. Defaults to ivf.DefaultMaxIters.
	MaxIters int
	// Tolerance stops k-means once centroid movement falls to or below
	// it.
	Tolerance float32
	// Output optionally persists the trained model to the store under
	// this name.
	Output string
}

// TrainIVF trains the coarse partition model by sampled k-means over
// the column.
func (q *Quiver) TrainIVF(ctx context.Context, params TrainIVFParams) (*ivf.Model, error) {
	start := time.Now()
	model, err := q.trainIVF(ctx, params)
	duration := time.Since(start)

	q.metrics.RecordTrainIVF(duration, err)
	q.logger.LogTrainIVF(ctx, params.Column, params.NumPartitions, duration, err)
	return model, err
}

func (q *Quiver) trainIVF(ctx context.Context, params TrainIVFParams) (*ivf.Model, error) {
	metric, err := distance.Parse(params.DistanceType)
	if err != nil {
		return nil, err
	}

	model, err := ivf.Train(ctx, q.ds, params.Column, ivf.TrainParams{
		NumPartitions:   params.NumPartitions,
		Metric:          metric,
		SampleRate:      params.SampleRate,
		MaxTrainingRows: params.MaxTrainingRows,
		MaxIters:        params.MaxIters,
		Tolerance:       params.Tolerance,
		Seed:            q.seed,
		BatchSize:       q.batchSize,
	})
	if err != nil {
		return nil, err
	}

	if params.Output != "" {
		if err := model.SaveTo(ctx, q.store, params.Output); err != nil {
			return nil, err
		}
	}
	return model, nil
}

// TrainPQParams configures TrainPQ.
type TrainPQParams struct {
	// Column is the vector column to train on.
	Column string
	// NumSubvectors is the number of PQ subvector slots M. Required,
	// >= 1; the column dimension must be divisible by it.
	NumSubvectors int
	// DistanceType selects the metric by wire name. Must agree with the
	// IVF model when residual training is requested.
	DistanceType string
	// UseResiduals trains the codebook on residuals against the IVF
	// partition centroids instead of raw vectors.
	UseResiduals bool
	// SampleRate scales the training sample: up to SampleRate*256 rows.
	// Defaults to quantization.DefaultSampleRate.
	SampleRate int
	// MaxTrainingRows caps the training sample regardless of SampleRate.
	MaxTrainingRows int
	// MaxIters caps k-means iterations per subvector slot. Defaults to
	// quantization.DefaultMaxIters.
	MaxIters int
	// Tolerance stops a slot's k-means once codeword movement falls to
	// or below it.
	Tolerance float32
	// Output optionally persists the trained quantizer to the store
	// under this name.
	Output string
}

// TrainPQ trains the product quantization codebook. ivfModel may be nil
// unless UseResiduals is set.
func (q *Quiver) TrainPQ(ctx context.Context, params TrainPQParams, ivfModel *ivf.Model) (*quantization.ProductQuantizer, error) {
	start := time.Now()
	pq, err := q.trainPQ(ctx, params, ivfModel)
	duration := time.Since(start)

	q.metrics.RecordTrainPQ(duration, err)
	q.logger.LogTrainPQ(ctx, params.Column, params.NumSubvectors, params.UseResiduals, duration, err)
	return pq, err
}

func (q *Quiver) trainPQ(ctx context.Context, params TrainPQParams, ivfModel *ivf.Model) (*quantization.ProductQuantizer, error) {
	metric, err := distance.Parse(params.DistanceType)
	if err != nil {
		return nil, err
	}

	pq, err := quantization.Train(ctx, q.ds, params.Column, quantization.TrainParams{
		NumSubvectors:   params.NumSubvectors,
		Metric:          metric,
		UseResiduals:    params.UseResiduals,
		SampleRate:      params.SampleRate,
		MaxTrainingRows: params.MaxTrainingRows,
		MaxIters:        params.MaxIters,
		Tolerance:       params.Tolerance,
		Seed:            q.seed,
		BatchSize:       q.batchSize,
	}, ivfModel)
	if err != nil {
		return nil, err
	}

	if params.Output != "" {
		if err := pq.SaveTo(ctx, q.store, params.Output); err != nil {
			return nil, err
		}
	}
	return pq, nil
}

// TransformParams configures TransformVectors.
type TransformParams struct {
	// Column is the vector column to transform.
	Column string
	// Output is the record file name to write.
	Output string
	// Fragments optionally restricts the scan to a fragment subset; nil
	// scans the whole dataset.
	Fragments []uint32
}

// TransformVectors assigns every vector to its IVF partition and
// PQ-encodes it, streaming records to one output file. The partial
// output is removed on failure.
func (q *Quiver) TransformVectors(ctx context.Context, ivfModel *ivf.Model, pq *quantization.ProductQuantizer, params TransformParams) (*transform.Result, error) {
	start := time.Now()
	result, err := q.transformVectors(ctx, ivfModel, pq, params)
	duration := time.Since(start)

	var rows int64
	if result != nil {
		rows = result.Rows
	}
	q.metrics.RecordTransform(rows, duration, err)
	q.logger.LogTransform(ctx, params.Column, params.Output, rows, err)
	return result, err
}

func (q *Quiver) transformVectors(ctx context.Context, ivfModel *ivf.Model, pq *quantization.ProductQuantizer, params TransformParams) (*transform.Result, error) {
	if params.Output == "" {
		return nil, errdefs.Configf("transform: an output name is required")
	}

	tr, err := transform.NewTransformer(ivfModel, pq)
	if err != nil {
		return nil, err
	}
	return tr.Run(ctx, q.ds, q.store, params.Output, transform.Params{
		Column:      params.Column,
		BatchSize:   q.batchSize,
		Compression: q.compression,
		Fragments:   params.Fragments,
	})
}

// TransformFragmentsParams configures TransformFragments.
type TransformFragmentsParams struct {
	// Column is the vector column to transform.
	Column string
	// OutputPrefix names the per-fragment outputs: fragment f is written
	// to FragmentName(OutputPrefix, f).
	OutputPrefix string
	// Fragments optionally restricts the fan-out to a fragment subset;
	// nil covers every dataset fragment.
	Fragments []uint32
	// Parallelism caps concurrently transformed fragments. Zero uses the
	// resource controller's job limit, or 1 without a controller.
	Parallelism int
}

// FragmentOutputs reports a completed fragment fan-out.
type FragmentOutputs struct {
	// Outputs holds the per-fragment record file names, in the order the
	// fragments were requested.
	Outputs []string
	// Rows is the total number of records written across all fragments.
	Rows int64
}

// TransformFragments transforms fragments concurrently, one output file
// per fragment. When a resource controller is attached, each fragment
// additionally holds a controller job slot for its duration. On failure
// all fan-out outputs are removed, complete and partial alike.
func (q *Quiver) TransformFragments(ctx context.Context, ivfModel *ivf.Model, pq *quantization.ProductQuantizer, params TransformFragmentsParams) (*FragmentOutputs, error) {
	start := time.Now()
	result, err := q.transformFragments(ctx, ivfModel, pq, params)
	duration := time.Since(start)

	var rows int64
	if result != nil {
		rows = result.Rows
	}
	q.metrics.RecordTransform(rows, duration, err)
	q.logger.LogTransform(ctx, params.Column, params.OutputPrefix, rows, err)
	return result, err
}

func (q *Quiver) transformFragments(ctx context.Context, ivfModel *ivf.Model, pq *quantization.ProductQuantizer, params TransformFragmentsParams) (*FragmentOutputs, error) {
	if params.OutputPrefix == "" {
		return nil, errdefs.Configf("transform: an output prefix is required")
	}

	tr, err := transform.NewTransformer(ivfModel, pq)
	if err != nil {
		return nil, err
	}

	fragments := params.Fragments
	if fragments == nil {
		fragments = q.ds.Fragments()
	}
	if len(fragments) == 0 {
		return nil, errdefs.Configf("transform: no fragments to transform")
	}

	limit := params.Parallelism
	if limit <= 0 {
		limit = 1
		if q.controller != nil {
			limit = int(q.controller.JobLimit())
		}
	}

	outputs := make([]string, len(fragments))
	var rows atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, fragment := range fragments {
		name := FragmentName(params.OutputPrefix, fragment)
		outputs[i] = name
		g.Go(func() error {
			if q.controller != nil {
				if err := q.controller.AcquireJob(gctx); err != nil {
					return err
				}
				defer q.controller.ReleaseJob()
			}
			result, err := tr.Run(gctx, q.ds, q.store, name, transform.Params{
				Column:      params.Column,
				BatchSize:   q.batchSize,
				Compression: q.compression,
				Fragments:   []uint32{fragment},
			})
			if err != nil {
				return err
			}
			rows.Add(result.Rows)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, name := range outputs {
			_ = q.store.Delete(ctx, name)
		}
		return nil, err
	}

	return &FragmentOutputs{Outputs: outputs, Rows: rows.Load()}, nil
}

// ShuffleParams configures ShuffleVectors.
type ShuffleParams struct {
	// Inputs are the record files to route, typically transform outputs.
	// Required, non-empty.
	Inputs []string
	// OutputRoot names the partition files: partition p is written to
	// shuffle.PartitionName(OutputRoot, p).
	OutputRoot string
}

// ShuffleVectors bucket-sorts transform records into one file per IVF
// partition. Every partition of the model gets a file, empty partitions
// included. Outputs are removed on failure.
func (q *Quiver) ShuffleVectors(ctx context.Context, ivfModel *ivf.Model, params ShuffleParams) (*shuffle.Result, error) {
	start := time.Now()
	result, err := q.shuffleVectors(ctx, ivfModel, params)
	duration := time.Since(start)

	var rows int64
	var partitions int
	if result != nil {
		rows = result.Rows
		partitions = len(result.Partitions)
	}
	q.metrics.RecordShuffle(rows, duration, err)
	q.logger.LogShuffle(ctx, len(params.Inputs), partitions, rows, err)
	return result, err
}

func (q *Quiver) shuffleVectors(ctx context.Context, ivfModel *ivf.Model, params ShuffleParams) (*shuffle.Result, error) {
	if ivfModel == nil {
		return nil, errdefs.Configf("shuffle: an ivf model is required")
	}
	return shuffle.Run(ctx, q.store, params.Inputs, params.OutputRoot, shuffle.Params{
		NumPartitions: ivfModel.NumPartitions(),
		Compression:   q.compression,
	})
}

// WriteIndexParams configures WriteIndex.
type WriteIndexParams struct {
	// Column is the dataset column the index covers, recorded in the
	// artifact metadata.
	Column string
	// Partitions are the shuffled partition files in partition order,
	// one per IVF partition.
	Partitions []string
	// Output is the artifact name to write.
	Output string
	// DeleteInputs removes the partition files once the artifact is
	// sealed.
	DeleteInputs bool
}

// WriteIndex merges partition files in partition order into one sealed
// index artifact and returns the sealed model copy alongside it.
func (q *Quiver) WriteIndex(ctx context.Context, ivfModel *ivf.Model, pq *quantization.ProductQuantizer, params WriteIndexParams) (*indexfile.Result, error) {
	start := time.Now()
	result, err := q.writeIndex(ctx, ivfModel, pq, params)
	duration := time.Since(start)

	var rows, bytes int64
	if result != nil {
		rows = result.Rows
		bytes = result.Bytes
	}
	q.metrics.RecordWriteIndex(rows, bytes, duration, err)
	q.logger.LogWriteIndex(ctx, params.Output, rows, bytes, err)
	return result, err
}

func (q *Quiver) writeIndex(ctx context.Context, ivfModel *ivf.Model, pq *quantization.ProductQuantizer, params WriteIndexParams) (*indexfile.Result, error) {
	if params.Output == "" {
		return nil, errdefs.Configf("indexfile: an output name is required")
	}

	w, err := indexfile.NewWriter(ivfModel, pq)
	if err != nil {
		return nil, err
	}
	return w.Run(ctx, q.store, params.Partitions, params.Output, indexfile.Params{
		Column:         params.Column,
		DatasetVersion: q.ds.Version(),
		Codec:          q.codec,
		DeleteInputs:   params.DeleteInputs,
	})
}

// LoadIVF loads a previously saved coarse model from the store.
func (q *Quiver) LoadIVF(ctx context.Context, name string) (*ivf.Model, error) {
	return ivf.Load(ctx, q.store, name)
}

// LoadPQ loads a previously saved quantizer from the store.
func (q *Quiver) LoadPQ(ctx context.Context, name string) (*quantization.ProductQuantizer, error) {
	return quantization.Load(ctx, q.store, name)
}

// OpenIndex opens a sealed index artifact for inspection. The caller
// owns the returned reader and must close it.
func (q *Quiver) OpenIndex(ctx context.Context, name string) (*indexfile.Reader, error) {
	return indexfile.Open(ctx, q.store, name, q.codec)
}
