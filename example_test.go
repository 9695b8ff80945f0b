package quiver_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/quiverdb/quiver"
	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/ledger"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/testutil"
)

// Example_trainIVF trains a coarse partition model over a handful of
// two-dimensional vectors.
func Example_trainIVF() {
	ds, err := dataset.NewMemory(dataset.ColumnInfo{Name: "embedding", Dim: 2})
	if err != nil {
		log.Fatal(err)
	}
	if _, err := ds.AppendFragment(map[string][]float32{
		"embedding": {
			0, 0, 0, 1, 1, 0, 1, 1,
			10, 10, 10, 11, 11, 10, 11, 11,
		},
	}); err != nil {
		log.Fatal(err)
	}

	q, err := quiver.New(ds, quiver.WithStore(objectstore.NewMemory()), quiver.WithSeed(42))
	if err != nil {
		log.Fatal(err)
	}

	model, err := q.TrainIVF(context.Background(), quiver.TrainIVFParams{
		Column:        "embedding",
		NumPartitions: 2,
		DistanceType:  "l2",
		Output:        "embedding.ivf",
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%d partitions over %d dims\n", model.NumPartitions(), model.Dim)
	// Output: 2 partitions over 2 dims
}

// Example_buildIndex runs the whole pipeline against an in-memory
// dataset and store.
func Example_buildIndex() {
	rng := testutil.NewRNG(42)
	vectors, _ := rng.ClusteredVectors(4, 128, 8, 0.05)
	ds, err := testutil.NewDataset("embedding", 8, vectors, 0)
	if err != nil {
		log.Fatal(err)
	}

	q, err := quiver.New(ds, quiver.WithStore(objectstore.NewMemory()), quiver.WithSeed(42))
	if err != nil {
		log.Fatal(err)
	}

	res, err := q.BuildIndex(context.Background(), quiver.BuildIndexParams{
		Column:        "embedding",
		NumPartitions: 4,
		NumSubvectors: 2,
		DistanceType:  "l2",
		UseResiduals:  true,
		Output:        "embedding.qidx",
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("sealed %d rows into %s\n", res.Rows, res.Output)
	// Output: sealed 512 rows into embedding.qidx
}

// Example_resumableBuild attaches a ledger so a re-run restores
// committed stages instead of recomputing them.
func Example_resumableBuild() {
	dir := "./example-ledger"
	defer os.RemoveAll(dir)

	l, err := ledger.NewFile(dir)
	if err != nil {
		log.Fatal(err)
	}

	rng := testutil.NewRNG(42)
	vectors, _ := rng.ClusteredVectors(4, 128, 8, 0.05)
	ds, err := testutil.NewDataset("embedding", 8, vectors, 0)
	if err != nil {
		log.Fatal(err)
	}

	q, err := quiver.New(ds,
		quiver.WithStore(objectstore.NewMemory()),
		quiver.WithSeed(42),
		quiver.WithLedger(l),
	)
	if err != nil {
		log.Fatal(err)
	}

	params := quiver.BuildIndexParams{
		Name:              "demo",
		Column:            "embedding",
		NumPartitions:     4,
		NumSubvectors:     2,
		DistanceType:      "l2",
		Output:            "embedding.qidx",
		KeepIntermediates: true,
	}

	ctx := context.Background()
	if _, err := q.BuildIndex(ctx, params); err != nil {
		log.Fatal(err)
	}

	// A second run finds every stage committed.
	res, err := q.BuildIndex(ctx, params)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("resumed %d stages\n", len(res.Resumed))
	// Output: resumed 5 stages
}
