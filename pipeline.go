package quiver

import (
	"context"
	"errors"
	"fmt"

	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/ivf"
	"github.com/quiverdb/quiver/ledger"
	"github.com/quiverdb/quiver/quantization"
)

// Stage names recorded in the build ledger.
const (
	StageTrainIVF   = "train_ivf"
	StageTrainPQ    = "train_pq"
	StageTransform  = "transform"
	StageShuffle    = "shuffle"
	StageWriteIndex = "write_index"
)

// BuildIndexParams configures an end-to-end index build.
type BuildIndexParams struct {
	// Name identifies the build in the ledger. Defaults to
	// "<column>@v<dataset version>", which scopes resume to the dataset
	// state the build started from.
	Name string
	// Column is the vector column to index.
	Column string
	// NumPartitions is the number of IVF partitions P. Required, >= 1.
	NumPartitions int
	// NumSubvectors is the number of PQ subvector slots M. Required,
	// >= 1.
	NumSubvectors int
	// DistanceType selects the metric by wire name: "l2", "cosine" or
	// "dot".
	DistanceType string
	// UseResiduals trains the PQ codebook on residuals against the IVF
	// centroids instead of raw vectors.
	UseResiduals bool
	// SampleRate scales both trainers' samples. Zero keeps each
	// trainer's default.
	SampleRate int
	// MaxTrainingRows caps both trainers' samples. Zero means no cap.
	MaxTrainingRows int
	// MaxIters caps k-means iterations in both trainers. Zero keeps
	// each trainer's default.
	MaxIters int
	// Parallelism caps concurrently transformed fragments. Values above
	// one enable the fragment fan-out.
	Parallelism int
	// Output is the index artifact name. Required. Intermediate files
	// are named under it: "<output>.ivf", "<output>.pq",
	// "<output>.unsorted*" and "<output>.shuffled.partition_<p>".
	Output string
	// KeepIntermediates retains the trained model files, transform
	// outputs and partition files after the artifact is sealed. Leave
	// unset to remove them.
	KeepIntermediates bool
}

// BuildResult reports a completed build.
type BuildResult struct {
	// Output is the sealed artifact name within the store.
	Output string
	// Model is the sealed coarse model recorded in the artifact.
	Model *ivf.Model
	// Quantizer is the codebook recorded in the artifact.
	Quantizer *quantization.ProductQuantizer
	// Rows is the total entry count across all partitions.
	Rows int64
	// Bytes is the artifact size, trailer included.
	Bytes int64
	// Resumed lists the stages restored from the ledger instead of
	// re-run, in pipeline order.
	Resumed []string
}

// BuildIndex runs the whole pipeline: train the coarse model, train the
// codebook, transform the dataset, shuffle into partition files and
// merge them into one sealed artifact.
//
// With a ledger attached, each completed stage is committed under the
// build name and a re-run after a crash resumes from the first
// uncommitted stage. Without a ledger every stage runs fresh.
func (q *Quiver) BuildIndex(ctx context.Context, params BuildIndexParams) (*BuildResult, error) {
	if params.Column == "" {
		return nil, errdefs.Configf("build: a column is required")
	}
	if params.Output == "" {
		return nil, errdefs.Configf("build: an output name is required")
	}

	build := params.Name
	if build == "" {
		build = fmt.Sprintf("%s@v%d", params.Column, q.ds.Version())
	}

	var (
		ivfName      = params.Output + ".ivf"
		pqName       = params.Output + ".pq"
		unsortedName = params.Output + ".unsorted"
		shuffledRoot = params.Output + ".shuffled"
	)

	var resumed []string

	// Stage 1: coarse partition model.
	model, entry, err := q.buildTrainIVF(ctx, build, ivfName, params)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		q.logger.LogStageSkipped(ctx, build, StageTrainIVF)
		resumed = append(resumed, StageTrainIVF)
	}

	// Stage 2: codebook.
	pq, entry, err := q.buildTrainPQ(ctx, build, pqName, params, model)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		q.logger.LogStageSkipped(ctx, build, StageTrainPQ)
		resumed = append(resumed, StageTrainPQ)
	}

	// Stage 3: streaming transform.
	unsorted, entry, err := q.buildTransform(ctx, build, unsortedName, params, model, pq)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		q.logger.LogStageSkipped(ctx, build, StageTransform)
		resumed = append(resumed, StageTransform)
	}

	// Stage 4: bucket sort into partition files.
	partitions, entry, err := q.buildShuffle(ctx, build, shuffledRoot, model, unsorted)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		q.logger.LogStageSkipped(ctx, build, StageShuffle)
		resumed = append(resumed, StageShuffle)
	}

	// Stage 5: partition-ordered merge into the sealed artifact.
	result, entry, err := q.buildWriteIndex(ctx, build, params, model, pq, partitions)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		q.logger.LogStageSkipped(ctx, build, StageWriteIndex)
		resumed = append(resumed, StageWriteIndex)
	} else if !params.KeepIntermediates {
		// Partition files were removed by the merge; sweep the rest.
		for _, name := range unsorted {
			_ = q.store.Delete(ctx, name)
		}
		_ = q.store.Delete(ctx, ivfName)
		_ = q.store.Delete(ctx, pqName)
	}

	result.Resumed = resumed
	return result, nil
}

// stageDone returns the committed entry for stage, or nil when the
// stage has not been committed (or no ledger is attached).
func (q *Quiver) stageDone(ctx context.Context, build, stage string) (*ledger.Entry, error) {
	if q.ledger == nil {
		return nil, nil
	}
	entry, err := q.ledger.Get(ctx, build, stage)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// commitStage records a completed stage. When a concurrent build
// committed the stage first, the winner's entry is returned with raced
// set so the caller can adopt the winner's artifacts.
func (q *Quiver) commitStage(ctx context.Context, build string, entry ledger.Entry) (won ledger.Entry, raced bool, err error) {
	if q.ledger == nil {
		return entry, false, nil
	}
	err = q.ledger.Commit(ctx, build, entry)
	if err == nil {
		return entry, false, nil
	}
	if errors.Is(err, ledger.ErrStageCommitted) {
		prior, gerr := q.ledger.Get(ctx, build, entry.Stage)
		if gerr != nil {
			return entry, false, gerr
		}
		return *prior, true, nil
	}
	return entry, false, err
}

func (q *Quiver) buildTrainIVF(ctx context.Context, build, ivfName string, params BuildIndexParams) (*ivf.Model, *ledger.Entry, error) {
	entry, err := q.stageDone(ctx, build, StageTrainIVF)
	if err != nil {
		return nil, nil, err
	}
	if entry != nil {
		if len(entry.Artifacts) != 1 {
			return nil, nil, errdefs.Configf("build %q: stage %s entry has no model artifact", build, StageTrainIVF)
		}
		model, err := q.LoadIVF(ctx, entry.Artifacts[0])
		return model, entry, err
	}

	model, err := q.TrainIVF(ctx, TrainIVFParams{
		Column:          params.Column,
		NumPartitions:   params.NumPartitions,
		DistanceType:    params.DistanceType,
		SampleRate:      params.SampleRate,
		MaxTrainingRows: params.MaxTrainingRows,
		MaxIters:        params.MaxIters,
		Output:          ivfName,
	})
	if err != nil {
		return nil, nil, err
	}

	won, raced, err := q.commitStage(ctx, build, ledger.Entry{
		Stage:     StageTrainIVF,
		Artifacts: []string{ivfName},
	})
	if err != nil {
		return nil, nil, err
	}
	if raced {
		if len(won.Artifacts) != 1 {
			return nil, nil, errdefs.Configf("build %q: stage %s entry has no model artifact", build, StageTrainIVF)
		}
		model, err := q.LoadIVF(ctx, won.Artifacts[0])
		return model, &won, err
	}
	return model, nil, nil
}

func (q *Quiver) buildTrainPQ(ctx context.Context, build, pqName string, params BuildIndexParams, model *ivf.Model) (*quantization.ProductQuantizer, *ledger.Entry, error) {
	entry, err := q.stageDone(ctx, build, StageTrainPQ)
	if err != nil {
		return nil, nil, err
	}
	if entry != nil {
		if len(entry.Artifacts) != 1 {
			return nil, nil, errdefs.Configf("build %q: stage %s entry has no quantizer artifact", build, StageTrainPQ)
		}
		pq, err := q.LoadPQ(ctx, entry.Artifacts[0])
		return pq, entry, err
	}

	pq, err := q.TrainPQ(ctx, TrainPQParams{
		Column:          params.Column,
		NumSubvectors:   params.NumSubvectors,
		DistanceType:    params.DistanceType,
		UseResiduals:    params.UseResiduals,
		SampleRate:      params.SampleRate,
		MaxTrainingRows: params.MaxTrainingRows,
		MaxIters:        params.MaxIters,
		Output:          pqName,
	}, model)
	if err != nil {
		return nil, nil, err
	}

	won, raced, err := q.commitStage(ctx, build, ledger.Entry{
		Stage:     StageTrainPQ,
		Artifacts: []string{pqName},
	})
	if err != nil {
		return nil, nil, err
	}
	if raced {
		if len(won.Artifacts) != 1 {
			return nil, nil, errdefs.Configf("build %q: stage %s entry has no quantizer artifact", build, StageTrainPQ)
		}
		pq, err := q.LoadPQ(ctx, won.Artifacts[0])
		return pq, &won, err
	}
	return pq, nil, nil
}

func (q *Quiver) buildTransform(ctx context.Context, build, unsortedName string, params BuildIndexParams, model *ivf.Model, pq *quantization.ProductQuantizer) ([]string, *ledger.Entry, error) {
	entry, err := q.stageDone(ctx, build, StageTransform)
	if err != nil {
		return nil, nil, err
	}
	if entry != nil {
		if len(entry.Artifacts) == 0 {
			return nil, nil, errdefs.Configf("build %q: stage %s entry has no outputs", build, StageTransform)
		}
		return entry.Artifacts, entry, nil
	}

	var (
		outputs []string
		rows    int64
	)
	if params.Parallelism > 1 && len(q.ds.Fragments()) > 1 {
		result, err := q.TransformFragments(ctx, model, pq, TransformFragmentsParams{
			Column:       params.Column,
			OutputPrefix: unsortedName,
			Parallelism:  params.Parallelism,
		})
		if err != nil {
			return nil, nil, err
		}
		outputs, rows = result.Outputs, result.Rows
	} else {
		result, err := q.TransformVectors(ctx, model, pq, TransformParams{
			Column: params.Column,
			Output: unsortedName,
		})
		if err != nil {
			return nil, nil, err
		}
		outputs, rows = []string{result.Output}, result.Rows
	}

	won, raced, err := q.commitStage(ctx, build, ledger.Entry{
		Stage:     StageTransform,
		Artifacts: outputs,
		Rows:      rows,
	})
	if err != nil {
		return nil, nil, err
	}
	if raced {
		return won.Artifacts, &won, nil
	}
	return outputs, nil, nil
}

func (q *Quiver) buildShuffle(ctx context.Context, build, shuffledRoot string, model *ivf.Model, inputs []string) ([]string, *ledger.Entry, error) {
	entry, err := q.stageDone(ctx, build, StageShuffle)
	if err != nil {
		return nil, nil, err
	}
	if entry != nil {
		if len(entry.Artifacts) == 0 {
			return nil, nil, errdefs.Configf("build %q: stage %s entry has no partition files", build, StageShuffle)
		}
		return entry.Artifacts, entry, nil
	}

	result, err := q.ShuffleVectors(ctx, model, ShuffleParams{
		Inputs:     inputs,
		OutputRoot: shuffledRoot,
	})
	if err != nil {
		return nil, nil, err
	}

	won, raced, err := q.commitStage(ctx, build, ledger.Entry{
		Stage:     StageShuffle,
		Artifacts: result.Partitions,
		Rows:      result.Rows,
	})
	if err != nil {
		return nil, nil, err
	}
	if raced {
		return won.Artifacts, &won, nil
	}
	return result.Partitions, nil, nil
}

func (q *Quiver) buildWriteIndex(ctx context.Context, build string, params BuildIndexParams, model *ivf.Model, pq *quantization.ProductQuantizer, partitions []string) (*BuildResult, *ledger.Entry, error) {
	entry, err := q.stageDone(ctx, build, StageWriteIndex)
	if err != nil {
		return nil, nil, err
	}
	if entry != nil {
		result, err := q.reopenBuild(ctx, params.Output, *entry)
		return result, entry, err
	}

	merged, err := q.WriteIndex(ctx, model, pq, WriteIndexParams{
		Column:       params.Column,
		Partitions:   partitions,
		Output:       params.Output,
		DeleteInputs: !params.KeepIntermediates,
	})
	if err != nil {
		return nil, nil, err
	}

	won, raced, err := q.commitStage(ctx, build, ledger.Entry{
		Stage:     StageWriteIndex,
		Artifacts: []string{merged.Output},
		Rows:      merged.Rows,
		Bytes:     merged.Bytes,
	})
	if err != nil {
		return nil, nil, err
	}
	if raced {
		result, err := q.reopenBuild(ctx, params.Output, won)
		return result, &won, err
	}

	return &BuildResult{
		Output:    merged.Output,
		Model:     merged.Model,
		Quantizer: pq,
		Rows:      merged.Rows,
		Bytes:     merged.Bytes,
	}, nil, nil
}

// reopenBuild reconstructs a BuildResult from an already-sealed
// artifact, verifying it still opens cleanly.
func (q *Quiver) reopenBuild(ctx context.Context, output string, entry ledger.Entry) (*BuildResult, error) {
	reader, err := q.OpenIndex(ctx, output)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return &BuildResult{
		Output:    output,
		Model:     reader.Model(),
		Quantizer: reader.Quantizer(),
		Rows:      reader.Rows(),
		Bytes:     entry.Bytes,
	}, nil
}
