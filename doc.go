// Package quiver builds IVF-PQ approximate nearest neighbor indexes
// over large vector datasets.
//
// Quiver separates index construction from index serving: it trains
// compact models, streams the dataset through them and seals one
// self-describing artifact per column. The dataset is never held in
// memory; every stage is a bounded streaming pass.
//
// # Quick Start
//
// Build an index over a dataset column end to end:
//
//	ctx := context.Background()
//	q, _ := quiver.New(ds, quiver.WithSeed(42))
//	result, _ := q.BuildIndex(ctx, quiver.BuildIndexParams{
//	    Column:        "embedding",
//	    NumPartitions: 256,
//	    NumSubvectors: 16,
//	    DistanceType:  "l2",
//	    UseResiduals:  true,
//	    Output:        "embedding.qidx",
//	})
//
// # Running Stages Individually
//
// Each stage is also exposed on its own, so external schedulers can run
// them as separate tasks:
//
//	model, _ := q.TrainIVF(ctx, quiver.TrainIVFParams{
//	    Column: "embedding", NumPartitions: 256, DistanceType: "l2",
//	})
//	pq, _ := q.TrainPQ(ctx, quiver.TrainPQParams{
//	    Column: "embedding", NumSubvectors: 16, DistanceType: "l2",
//	    UseResiduals: true,
//	}, model)
//	unsorted, _ := q.TransformVectors(ctx, model, pq, quiver.TransformParams{
//	    Column: "embedding", Output: "embedding.unsorted",
//	})
//	shuffled, _ := q.ShuffleVectors(ctx, model, quiver.ShuffleParams{
//	    Inputs: []string{unsorted.Output}, OutputRoot: "embedding.shuffled",
//	})
//	sealed, _ := q.WriteIndex(ctx, model, pq, quiver.WriteIndexParams{
//	    Column: "embedding", Partitions: shuffled.Partitions,
//	    Output: "embedding.qidx",
//	})
//
// # Crash-Safe Builds
//
// With a ledger attached, BuildIndex commits each completed stage and a
// re-run resumes from the first uncommitted stage:
//
//	q, _ := quiver.NewBuilder(ds).
//	    FileLedger("./ledger").
//	    Compression("zstd").
//	    Build()
//
// The DynamoDB ledger (ledger/ddb) provides the same contract across
// workers.
//
// # Reading an Artifact
//
// Sealed artifacts are opened through the indexfile package:
//
//	reader, _ := q.OpenIndex(ctx, "embedding.qidx")
//	defer reader.Close()
//	fmt.Println(reader.Rows(), reader.NumPartitions())
//
// Index serving (query execution against the artifact) is out of scope;
// the artifact layout is documented in the indexfile package.
//
// # Key Features
//
//   - IVF coarse partitioning: sampled k-means over l2, cosine or dot
//   - Product quantization with optional residual encoding
//   - Parallel per-fragment transform fan-out with resource limits
//   - External bucket sort into per-partition files (lz4/zstd optional)
//   - Partition-ordered merge into a sealed, versioned artifact
//   - Exactly-once stage commits via file or DynamoDB ledger
package quiver
