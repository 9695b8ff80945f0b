package integration_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdb/quiver"
	"github.com/quiverdb/quiver/dataset"
	"github.com/quiverdb/quiver/indexfile"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/shuffle"
	"github.com/quiverdb/quiver/testutil"
	"github.com/quiverdb/quiver/transform"
)

const (
	e2eClusters     = 8
	e2ePerCluster   = 1250
	e2eDim          = 4
	e2eRows         = e2eClusters * e2ePerCluster
	e2eFragmentRows = 1000
)

// rowIndex maps a packed row id back to the row's position in the
// flattened source vectors.
func rowIndex(t *testing.T, id uint64) int {
	t.Helper()
	fragment, offset := dataset.SplitRowID(id)
	require.Less(t, int(offset), e2eFragmentRows)
	return int(fragment)*e2eFragmentRows + int(offset)
}

// readRecords drains one record container, copying the code bytes out of
// the reader's reuse buffer.
func readRecords(ctx context.Context, t *testing.T, store objectstore.Store, name string) []transform.Record {
	t.Helper()

	fr, err := transform.OpenFile(ctx, store, name)
	require.NoError(t, err, name)
	defer fr.Close()

	var (
		out []transform.Record
		rec transform.Record
	)
	for {
		err := fr.Next(&rec)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err, name)
		out = append(out, transform.Record{
			RowID:       rec.RowID,
			PartitionID: rec.PartitionID,
			Code:        append([]byte(nil), rec.Code...),
		})
	}
}

// TestPipeline_EndToEnd runs every stage by hand over 10k clustered
// vectors and checks each artifact the pipeline leaves behind: the
// trained models, the transformed records, the partition files and the
// sealed index.
func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()

	rng := testutil.NewRNG(1)
	vectors, _ := rng.ClusteredVectors(e2eClusters, e2ePerCluster, e2eDim, 0.01)
	ds, err := testutil.NewDataset("embedding", e2eDim, vectors, e2eFragmentRows)
	require.NoError(t, err)

	store := objectstore.NewMemory()
	q, err := quiver.New(ds, quiver.WithStore(store), quiver.WithSeed(1))
	require.NoError(t, err)

	// Stage 1: coarse model.
	model, err := q.TrainIVF(ctx, quiver.TrainIVFParams{
		Column:        "embedding",
		NumPartitions: 8,
		DistanceType:  "l2",
		Output:        "vectors.ivf",
	})
	require.NoError(t, err)
	assert.Equal(t, 8, model.NumPartitions())
	assert.Equal(t, e2eDim, model.Dim)
	assert.Len(t, model.Centroids, 8*e2eDim)

	// Stage 2: codebook over residuals. Two subvectors of two dims each,
	// 256 codewords per subvector.
	pq, err := q.TrainPQ(ctx, quiver.TrainPQParams{
		Column:        "embedding",
		NumSubvectors: 2,
		DistanceType:  "l2",
		UseResiduals:  true,
		Output:        "vectors.pq",
	}, model)
	require.NoError(t, err)
	assert.Equal(t, 2, pq.M)
	assert.Equal(t, 2, pq.SubDim())
	assert.Len(t, pq.Codebook, 2*256*2)
	assert.True(t, pq.TrainedOnResiduals)

	// Stage 3: streaming transform.
	tf, err := q.TransformVectors(ctx, model, pq, quiver.TransformParams{
		Column: "embedding",
		Output: "vectors.unsorted",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(e2eRows), tf.Rows)

	records := readRecords(ctx, t, store, "vectors.unsorted")
	require.Len(t, records, e2eRows)

	// Every record carries its row's nearest centroid, and decoding its
	// code against that centroid lands near the source vector.
	var (
		unsorted = make(map[uint64]int, e2eRows)
		recon    = make([]float32, e2eDim)
		sqErr    float64
	)
	for _, rec := range records {
		unsorted[rec.RowID]++
		require.Less(t, int(rec.PartitionID), 8)

		vec := vectors[rowIndex(t, rec.RowID)*e2eDim:][:e2eDim]
		want, err := model.Assign(vec)
		require.NoError(t, err)
		require.Equal(t, want, rec.PartitionID)

		require.NoError(t, pq.DecodeInto(recon, rec.Code))
		centroid := model.Centroid(int(rec.PartitionID))
		for d := 0; d < e2eDim; d++ {
			diff := float64(vec[d] - (centroid[d] + recon[d]))
			sqErr += diff * diff
		}
	}
	require.Len(t, unsorted, e2eRows)
	assert.Less(t, sqErr/float64(e2eRows), 0.05)

	// Stage 4: bucket sort into exactly one file per partition.
	sh, err := q.ShuffleVectors(ctx, model, quiver.ShuffleParams{
		Inputs:     []string{"vectors.unsorted"},
		OutputRoot: "vectors.shuffled",
	})
	require.NoError(t, err)
	require.Len(t, sh.Partitions, 8)
	require.Len(t, sh.Counts, 8)
	assert.Equal(t, int64(e2eRows), sh.Rows)

	var counted uint64
	for _, c := range sh.Counts {
		counted += c
	}
	assert.Equal(t, uint64(e2eRows), counted)

	// The shuffle rearranges records without inventing or dropping any:
	// the union over partition files is exactly the unsorted file.
	shuffled := make(map[uint64]int, e2eRows)
	partitionIDs := make([][]uint64, 8)
	for p, name := range sh.Partitions {
		require.Equal(t, shuffle.PartitionName("vectors.shuffled", uint32(p)), name)

		recs := readRecords(ctx, t, store, name)
		require.Len(t, recs, int(sh.Counts[p]), name)
		for _, rec := range recs {
			require.Equal(t, uint32(p), rec.PartitionID, name)
			shuffled[rec.RowID]++
			partitionIDs[p] = append(partitionIDs[p], rec.RowID)
		}
	}
	assert.Equal(t, unsorted, shuffled)

	// Stage 5: partition-ordered merge.
	wi, err := q.WriteIndex(ctx, model, pq, quiver.WriteIndexParams{
		Column:     "embedding",
		Partitions: sh.Partitions,
		Output:     "vectors.idx",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(e2eRows), wi.Rows)
	assert.Greater(t, wi.Bytes, int64(0))

	reader, err := q.OpenIndex(ctx, "vectors.idx")
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, int64(e2eRows), reader.Rows())
	assert.Equal(t, 8, reader.NumPartitions())

	major, minor := reader.FormatVersion()
	assert.Equal(t, indexfile.FormatMajor, major)
	assert.Equal(t, indexfile.FormatMinor, minor)

	meta := reader.Metadata()
	assert.Equal(t, indexfile.KindIVFPQ, meta.Kind)
	assert.Equal(t, "embedding", meta.Column)
	assert.Equal(t, e2eDim, meta.Dim)
	assert.Equal(t, "l2", meta.Metric)
	assert.Equal(t, 2, meta.PQ.NumSubvectors)
	assert.Equal(t, 8, meta.PQ.NumBits)
	assert.True(t, meta.PQ.Residuals)

	// The sealed layout is contiguous and, with every partition
	// populated, strictly increasing.
	sealed := reader.Model()
	require.True(t, sealed.Sealed())
	require.Len(t, sealed.Lengths, 8)

	var total uint64
	for p, length := range sealed.Lengths {
		require.Positive(t, length, "partition %d", p)
		require.Equal(t, total, sealed.Offsets[p], "partition %d", p)
		if p > 0 {
			require.Greater(t, sealed.Offsets[p], sealed.Offsets[p-1])
		}
		total += uint64(length)
	}
	require.Equal(t, uint64(e2eRows), total)

	// The merge preserves each partition file's record order.
	for p := 0; p < 8; p++ {
		pr, err := reader.Partition(ctx, p)
		require.NoError(t, err)

		var got []uint64
		var e indexfile.Entry
		for {
			err := pr.Next(&e)
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			got = append(got, e.RowID)
		}
		require.NoError(t, pr.Close())
		assert.Equal(t, partitionIDs[p], got, "partition %d", p)
	}

	// The trailer is the last 16 bytes: metadata offset, format version,
	// magic. Re-encoding the decoded fields reproduces it byte for byte.
	blob, err := store.Open(ctx, "vectors.idx")
	require.NoError(t, err)
	defer blob.Close()

	raw := make([]byte, 16)
	_, err = blob.ReadAt(ctx, raw, blob.Size()-16)
	require.NoError(t, err)

	assert.Equal(t, []byte("QIDX"), raw[12:16])
	metaOffset := binary.LittleEndian.Uint64(raw[0:8])
	entryLen := uint64(8 + pq.CodeSize())
	assert.Equal(t, uint64(e2eRows)*entryLen, metaOffset)

	enc := make([]byte, 16)
	binary.LittleEndian.PutUint64(enc[0:8], metaOffset)
	binary.LittleEndian.PutUint16(enc[8:10], binary.LittleEndian.Uint16(raw[8:10]))
	binary.LittleEndian.PutUint16(enc[10:12], binary.LittleEndian.Uint16(raw[10:12]))
	copy(enc[12:16], "QIDX")
	assert.Equal(t, raw, enc)
}

// TestPipeline_CompressedParallelBuild drives the same pipeline through
// BuildIndex with compressed intermediates and the fragment fan-out.
func TestPipeline_CompressedParallelBuild(t *testing.T) {
	ctx := context.Background()

	rng := testutil.NewRNG(9)
	vectors, _ := rng.ClusteredVectors(8, 250, e2eDim, 0.01)
	ds, err := testutil.NewDataset("embedding", e2eDim, vectors, 250)
	require.NoError(t, err)

	store := objectstore.NewMemory()
	q, err := quiver.New(ds,
		quiver.WithStore(store),
		quiver.WithSeed(9),
		quiver.WithCompression("zstd"),
	)
	require.NoError(t, err)

	res, err := q.BuildIndex(ctx, quiver.BuildIndexParams{
		Column:        "embedding",
		NumPartitions: 8,
		NumSubvectors: 2,
		DistanceType:  "l2",
		UseResiduals:  true,
		Parallelism:   4,
		Output:        "vectors.idx",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2000), res.Rows)

	reader, err := q.OpenIndex(ctx, "vectors.idx")
	require.NoError(t, err)
	defer reader.Close()

	assert.Equal(t, int64(2000), reader.Rows())
	assert.Equal(t, 8, reader.NumPartitions())

	var total uint64
	for _, length := range reader.Model().Lengths {
		total += uint64(length)
	}
	assert.Equal(t, uint64(2000), total)
}

// TestPipeline_SubvectorsMustDivideDimension pins the codebook shape
// rule: M has to divide the vector dimension.
func TestPipeline_SubvectorsMustDivideDimension(t *testing.T) {
	ctx := context.Background()

	rng := testutil.NewRNG(3)
	vectors, _ := rng.ClusteredVectors(8, 64, e2eDim, 0.01)
	ds, err := testutil.NewDataset("embedding", e2eDim, vectors, 0)
	require.NoError(t, err)

	q, err := quiver.New(ds, quiver.WithStore(objectstore.NewMemory()))
	require.NoError(t, err)

	_, err = q.TrainPQ(ctx, quiver.TrainPQParams{
		Column:        "embedding",
		NumSubvectors: 3,
		DistanceType:  "l2",
		Output:        "vectors.pq",
	}, nil)
	assert.True(t, quiver.IsConfig(err))
}
