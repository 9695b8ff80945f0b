package quantization

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/distance"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/internal/math32"
	"github.com/quiverdb/quiver/ivf"
)

// patternedDataset builds rows whose values snap to a small grid plus
// jitter, so subvectors fall into well-separated clusters a trained
// codebook can reconstruct tightly.
func patternedDataset(t *testing.T, dim, patterns, rows int, jitter float32, seed int64) (*dataset.Memory, []float32) {
	t.Helper()
	ds, err := dataset.NewMemory(dataset.ColumnInfo{Name: "embedding", Dim: dim})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(seed))
	vecs := make([]float32, rows*dim)
	for i := range vecs {
		vecs[i] = float32(rng.Intn(patterns))*5 + (rng.Float32()*2-1)*jitter
	}
	_, err = ds.AppendFragment(map[string][]float32{"embedding": vecs})
	require.NoError(t, err)
	return ds, vecs
}

func TestTrain_ParamValidation(t *testing.T) {
	ctx := context.Background()
	ds, _ := patternedDataset(t, 4, 2, 10, 0.1, 1)

	cases := []TrainParams{
		{NumSubvectors: 0},
		{NumSubvectors: -2},
		{NumSubvectors: 2, SampleRate: -1},
		{NumSubvectors: 2, MaxTrainingRows: -1},
		{NumSubvectors: 2, MaxIters: -1},
		{NumSubvectors: 2, BatchSize: -1},
		{NumSubvectors: 2, Metric: distance.MetricHamming},
		{NumSubvectors: 2, Metric: distance.Metric(42)},
	}
	for _, params := range cases {
		_, err := Train(ctx, ds, "embedding", params, nil)
		assert.True(t, errdefs.IsConfig(err), "params %+v: got %v", params, err)
	}
}

func TestTrain_ResidualsRequireModel(t *testing.T) {
	ctx := context.Background()
	ds, _ := patternedDataset(t, 4, 2, 10, 0.1, 1)

	_, err := Train(ctx, ds, "embedding", TrainParams{NumSubvectors: 2, UseResiduals: true}, nil)
	assert.True(t, errdefs.IsConfig(err))
}

func TestTrain_UnknownColumn(t *testing.T) {
	ctx := context.Background()
	ds, _ := patternedDataset(t, 4, 2, 10, 0.1, 1)

	_, err := Train(ctx, ds, "missing", TrainParams{NumSubvectors: 2}, nil)
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
}

func TestTrain_DimensionNotDivisible(t *testing.T) {
	ctx := context.Background()
	ds, _ := patternedDataset(t, 3, 2, 10, 0.1, 1)

	_, err := Train(ctx, ds, "embedding", TrainParams{NumSubvectors: 2}, nil)
	assert.True(t, errdefs.IsConfig(err))
}

func TestTrain_ModelConsistency(t *testing.T) {
	ctx := context.Background()
	ds, _ := patternedDataset(t, 4, 2, 10, 0.1, 1)

	// The check fires on any supplied model, residual training or not.
	wrongDim, err := ivf.New(make([]float32, 2*8), 8, distance.MetricL2)
	require.NoError(t, err)
	_, err = Train(ctx, ds, "embedding", TrainParams{NumSubvectors: 2}, wrongDim)
	assert.True(t, errdefs.IsModelConsistency(err))

	wrongMetric, err := ivf.New(make([]float32, 2*4), 4, distance.MetricL2)
	require.NoError(t, err)
	_, err = Train(ctx, ds, "embedding", TrainParams{
		NumSubvectors: 2,
		Metric:        distance.MetricCosine,
	}, wrongMetric)
	assert.True(t, errdefs.IsModelConsistency(err))
}

func TestTrain_SampleSmallerThanCodebook(t *testing.T) {
	ctx := context.Background()
	ds, _ := patternedDataset(t, 4, 2, 100, 0.1, 1)

	_, err := Train(ctx, ds, "embedding", TrainParams{NumSubvectors: 2}, nil)
	assert.True(t, errdefs.IsTraining(err))

	// A cap below the codebook size starves training the same way.
	big, _ := patternedDataset(t, 4, 2, 1000, 0.1, 1)
	_, err = Train(ctx, big, "embedding", TrainParams{NumSubvectors: 2, MaxTrainingRows: 100}, nil)
	assert.True(t, errdefs.IsTraining(err))
}

func TestTrain_ReconstructsWithinJitter(t *testing.T) {
	ctx := context.Background()
	ds, vecs := patternedDataset(t, 4, 8, 2000, 0.1, 7)

	pq, err := Train(ctx, ds, "embedding", TrainParams{
		NumSubvectors: 2,
		Metric:        distance.MetricL2,
		Seed:          42,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, pq.Dim)
	assert.Equal(t, 2, pq.M)
	assert.False(t, pq.TrainedOnResiduals)

	// Patterns sit 5 apart; reconstructions must land inside the jitter
	// cloud, far below one pattern step.
	var total float64
	const probe = 200
	decoded := make([]float32, 4)
	for i := 0; i < probe; i++ {
		vec := vecs[i*4 : (i+1)*4]
		code, err := pq.Encode(vec)
		require.NoError(t, err)
		require.NoError(t, pq.DecodeInto(decoded, code))

		errSq := math32.SquaredL2(vec, decoded)
		require.False(t, math.IsNaN(float64(errSq)))
		assert.Less(t, errSq, float32(6.0))
		total += float64(errSq)
	}
	assert.Less(t, total/probe, 1.0)
}

func TestTrain_Deterministic(t *testing.T) {
	ctx := context.Background()
	ds, _ := patternedDataset(t, 4, 4, 600, 0.2, 3)

	params := TrainParams{NumSubvectors: 2, Seed: 99}
	pq1, err := Train(ctx, ds, "embedding", params, nil)
	require.NoError(t, err)
	pq2, err := Train(ctx, ds, "embedding", params, nil)
	require.NoError(t, err)
	assert.Equal(t, pq1.Codebook, pq2.Codebook)

	pq3, err := Train(ctx, ds, "embedding", TrainParams{NumSubvectors: 2, Seed: 100}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, pq1.Codebook, pq3.Codebook)
}

func TestTrain_ResidualRoundTrip(t *testing.T) {
	ctx := context.Background()
	ds, vecs := patternedDataset(t, 4, 8, 2000, 0.1, 11)

	ivfModel, err := ivf.Train(ctx, ds, "embedding", ivf.TrainParams{
		NumPartitions: 4,
		Metric:        distance.MetricL2,
		Seed:          5,
	})
	require.NoError(t, err)

	pq, err := Train(ctx, ds, "embedding", TrainParams{
		NumSubvectors: 2,
		Metric:        distance.MetricL2,
		UseResiduals:  true,
		Seed:          5,
	}, ivfModel)
	require.NoError(t, err)
	assert.True(t, pq.TrainedOnResiduals)

	residual := make([]float32, 4)
	reconstructed := make([]float32, 4)
	for i := 0; i < 200; i++ {
		vec := vecs[i*4 : (i+1)*4]
		p, err := ivfModel.Assign(vec)
		require.NoError(t, err)
		require.NoError(t, ivfModel.Residual(residual, vec, p))

		code, err := pq.Encode(residual)
		require.NoError(t, err)
		require.NoError(t, pq.DecodeInto(reconstructed, code))
		math32.AddInPlace(reconstructed, ivfModel.Centroid(int(p)))

		assert.Less(t, math32.SquaredL2(vec, reconstructed), float32(6.0))
	}
}

func TestTrain_Cosine(t *testing.T) {
	ctx := context.Background()
	ds, vecs := patternedDataset(t, 4, 8, 1000, 0.1, 13)

	pq, err := Train(ctx, ds, "embedding", TrainParams{
		NumSubvectors: 2,
		Metric:        distance.MetricCosine,
		Seed:          1,
	}, nil)
	require.NoError(t, err)

	// Cosine codebooks quantize normalized inputs.
	vec := append([]float32(nil), vecs[:4]...)
	distance.NormalizeL2InPlace(vec)
	code, err := pq.Encode(vec)
	require.NoError(t, err)
	decoded, err := pq.Decode(code)
	require.NoError(t, err)
	for _, v := range decoded {
		assert.False(t, math.IsNaN(float64(v)))
	}
}

func TestTrain_MaxTrainingRowsCap(t *testing.T) {
	ctx := context.Background()
	ds, _ := patternedDataset(t, 4, 4, 2000, 0.2, 5)

	pq, err := Train(ctx, ds, "embedding", TrainParams{
		NumSubvectors:   2,
		MaxTrainingRows: 400,
		Seed:            1,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, pq.M)
}

func TestTrain_ContextCancelled(t *testing.T) {
	ds, _ := patternedDataset(t, 4, 4, 600, 0.2, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, ds, "embedding", TrainParams{NumSubvectors: 2}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
