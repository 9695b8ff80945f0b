package ivf

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
)

func clusteredDataset(t *testing.T, centers [][]float32, perCluster int, jitter float32, seed int64) *dataset.Memory {
	t.Helper()
	dim := len(centers[0])
	ds, err := dataset.NewMemory(dataset.ColumnInfo{Name: "embedding", Dim: dim})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(seed))
	vecs := make([]float32, 0, len(centers)*perCluster*dim)
	for i := 0; i < perCluster; i++ {
		for _, c := range centers {
			for d := 0; d < dim; d++ {
				vecs = append(vecs, c[d]+(rng.Float32()*2-1)*jitter)
			}
		}
	}
	_, err = ds.AppendFragment(map[string][]float32{"embedding": vecs})
	require.NoError(t, err)
	return ds
}

func TestTrain_ParamValidation(t *testing.T) {
	ctx := context.Background()
	ds := clusteredDataset(t, [][]float32{{0, 0}}, 10, 0.1, 1)

	cases := []TrainParams{
		{NumPartitions: 0},
		{NumPartitions: -2},
		{NumPartitions: 2, SampleRate: -1},
		{NumPartitions: 2, MaxTrainingRows: -1},
		{NumPartitions: 2, MaxIters: -1},
		{NumPartitions: 2, BatchSize: -1},
		{NumPartitions: 2, Metric: distance.MetricHamming},
		{NumPartitions: 2, Metric: distance.Metric(42)},
	}
	for _, params := range cases {
		_, err := Train(ctx, ds, "embedding", params)
		assert.True(t, errdefs.IsConfig(err), "params %+v: got %v", params, err)
	}
}

func TestTrain_UnknownColumn(t *testing.T) {
	ctx := context.Background()
	ds := clusteredDataset(t, [][]float32{{0, 0}}, 10, 0.1, 1)

	_, err := Train(ctx, ds, "missing", TrainParams{NumPartitions: 2})
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)
}

func TestTrain_RecoversClusterCenters(t *testing.T) {
	ctx := context.Background()
	centers := [][]float32{{0, 0}, {20, 0}, {0, 20}, {20, 20}}
	ds := clusteredDataset(t, centers, 100, 0.5, 7)

	m, err := Train(ctx, ds, "embedding", TrainParams{
		NumPartitions: 4,
		Metric:        distance.MetricL2,
		Seed:          42,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, m.NumPartitions())
	assert.Equal(t, 2, m.Dim)

	// Every true center must have a trained centroid close to it.
	for _, c := range centers {
		best := float32(math.MaxFloat32)
		for p := 0; p < m.NumPartitions(); p++ {
			if d := math32.SquaredL2(c, m.Centroid(p)); d < best {
				best = d
			}
		}
		assert.Less(t, best, float32(4.0), "no centroid near %v", c)
	}
}

func TestTrain_Deterministic(t *testing.T) {
	ctx := context.Background()
	ds := clusteredDataset(t, [][]float32{{0, 0}, {5, 5}}, 200, 1.0, 3)

	params := TrainParams{NumPartitions: 2, Seed: 99}
	m1, err := Train(ctx, ds, "embedding", params)
	require.NoError(t, err)
	m2, err := Train(ctx, ds, "embedding", params)
	require.NoError(t, err)
	assert.Equal(t, m1.Centroids, m2.Centroids)

	m3, err := Train(ctx, ds, "embedding", TrainParams{NumPartitions: 2, Seed: 100})
	require.NoError(t, err)
	assert.NotEqual(t, m1.Centroids, m3.Centroids)
}

func TestTrain_SampleSmallerThanPartitions(t *testing.T) {
	ctx := context.Background()
	ds := clusteredDataset(t, [][]float32{{0, 0}}, 3, 0.1, 1)

	_, err := Train(ctx, ds, "embedding", TrainParams{NumPartitions: 8})
	require.Error(t, err)
	assert.True(t, errdefs.IsTraining(err))
}

func TestTrain_TrainsOnFullSmallDataset(t *testing.T) {
	ctx := context.Background()
	// 20 rows, target sample would be 2*256; the whole dataset trains.
	ds := clusteredDataset(t, [][]float32{{0, 0}, {10, 10}}, 10, 0.2, 5)

	m, err := Train(ctx, ds, "embedding", TrainParams{NumPartitions: 2, Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumPartitions())
}

func TestTrain_MaxTrainingRowsCap(t *testing.T) {
	ctx := context.Background()
	ds := clusteredDataset(t, [][]float32{{0, 0}, {10, 10}}, 500, 0.3, 5)

	m, err := Train(ctx, ds, "embedding", TrainParams{
		NumPartitions:   2,
		MaxTrainingRows: 64,
		Seed:            1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumPartitions())
}

func TestTrain_CosineCentroidsNormalized(t *testing.T) {
	ctx := context.Background()
	centers := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	ds := clusteredDataset(t, centers, 100, 0.05, 11)

	m, err := Train(ctx, ds, "embedding", TrainParams{
		NumPartitions: 3,
		Metric:        distance.MetricCosine,
		Seed:          2,
	})
	require.NoError(t, err)

	for p := 0; p < m.NumPartitions(); p++ {
		c := m.Centroid(p)
		norm := math.Sqrt(float64(math32.Dot(c, c)))
		assert.InDelta(t, 1.0, norm, 1e-4)
	}
}

func TestTrain_ContextCancelled(t *testing.T) {
	ds := clusteredDataset(t, [][]float32{{0, 0}, {5, 5}}, 100, 0.5, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, ds, "embedding", TrainParams{NumPartitions: 2})
	assert.ErrorIs(t, err, context.Canceled)
}
