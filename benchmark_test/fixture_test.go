package benchmark_test

import (
	"context"
	"sync"
	"testing"

	"github.com/quiverdb/quiver"
	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/ivf"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/quantization"
	"github.com/quiverdb/quiver/testutil"
)

// Shared corpus for the stage benchmarks: clustered vectors sized so
// every stage has real work to do without dominating the suite.
const (
	benchDim        = 16
	benchClusters   = 8
	benchPerCluster = 1024
	benchRows       = benchClusters * benchPerCluster
	benchPartitions = 8
	benchSubvectors = 4
)

var (
	fixtureOnce sync.Once
	fixtureErr  error
	fixtureDS   *dataset.Memory
)

func benchDataset(b *testing.B) *dataset.Memory {
	b.Helper()
	fixtureOnce.Do(func() {
		rng := testutil.NewRNG(1)
		vectors, _ := rng.ClusteredVectors(benchClusters, benchPerCluster, benchDim, 0.05)
		fixtureDS, fixtureErr = testutil.NewDataset("embedding", benchDim, vectors, benchPerCluster)
	})
	if fixtureErr != nil {
		b.Fatal(fixtureErr)
	}
	return fixtureDS
}

func benchQuiver(b *testing.B, store objectstore.Store) *quiver.Quiver {
	b.Helper()
	q, err := quiver.New(benchDataset(b), quiver.WithStore(store), quiver.WithSeed(1))
	if err != nil {
		b.Fatal(err)
	}
	return q
}

// benchModels trains both models into the benchmark's store so the
// later stages can be measured on their own.
func benchModels(ctx context.Context, b *testing.B, q *quiver.Quiver) (*ivf.Model, *quantization.ProductQuantizer) {
	b.Helper()

	model, err := q.TrainIVF(ctx, quiver.TrainIVFParams{
		Column:        "embedding",
		NumPartitions: benchPartitions,
		DistanceType:  "l2",
		Output:        "bench.ivf",
	})
	if err != nil {
		b.Fatal(err)
	}

	pq, err := q.TrainPQ(ctx, quiver.TrainPQParams{
		Column:        "embedding",
		NumSubvectors: benchSubvectors,
		DistanceType:  "l2",
		UseResiduals:  true,
		Output:        "bench.pq",
	}, model)
	if err != nil {
		b.Fatal(err)
	}
	return model, pq
}
