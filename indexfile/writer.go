package indexfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/ivf"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/quantization"
	"github.com/quiverdb/quiver/transform"
)

const fileBufferSize = 256 * 1024

// Params configures a merge.
type Params struct {
	// Column is the dataset column the index covers, recorded in the
	// metadata block.
	Column string
	// DatasetVersion pins the artifact to the dataset state it was built
	// from.
	DatasetVersion uint64
	// Codec encodes the metadata block. Defaults to codec.Default.
	Codec codec.Codec
	// DeleteInputs removes the partition files once the artifact is
	// sealed. Leave unset to keep them for audit.
	DeleteInputs bool
}

// Result reports a sealed artifact.
type Result struct {
	// Output is the artifact name within the store.
	Output string
	// Model is a sealed copy of the coarse model with Offsets and
	// Lengths populated. The model passed to NewWriter is not touched.
	Model *ivf.Model
	// Rows is the total entry count across all partitions.
	Rows int64
	// Bytes is the artifact size, trailer included.
	Bytes int64
}

// Writer merges per-partition files into one sealed index artifact.
//
// Partitions are processed strictly in id order, so partition p's entries
// form one contiguous block starting at row offset Offsets[p]. A Writer
// is stateless across runs and safe for concurrent Run calls against
// different outputs.
type Writer struct {
	ivf *ivf.Model
	pq  *quantization.ProductQuantizer
}

// NewWriter checks that the model pair fits together before any file is
// touched.
func NewWriter(ivfModel *ivf.Model, pq *quantization.ProductQuantizer) (*Writer, error) {
	if ivfModel == nil || pq == nil {
		return nil, errdefs.Configf("indexfile: both models are required")
	}
	if err := ivfModel.Validate(); err != nil {
		return nil, err
	}
	if err := pq.Validate(); err != nil {
		return nil, err
	}
	if ivfModel.Dim != pq.Dim {
		return nil, &errdefs.ErrModelConsistency{Property: "dimension", IVF: strconv.Itoa(ivfModel.Dim), PQ: strconv.Itoa(pq.Dim)}
	}
	if ivfModel.Metric != pq.Metric {
		return nil, &errdefs.ErrModelConsistency{Property: "metric", IVF: ivfModel.Metric.String(), PQ: pq.Metric.String()}
	}
	return &Writer{ivf: ivfModel, pq: pq}, nil
}

// Run merges the partition files into a sealed artifact named name.
// partitions[p] must be the shuffle output for partition p, exactly one
// file per partition, in partition order.
//
// On failure the partial artifact is deleted, so the only artifacts left
// behind are sealed ones.
func (w *Writer) Run(ctx context.Context, store objectstore.Store, partitions []string, name string, params Params) (*Result, error) {
	if name == "" {
		return nil, errdefs.Configf("indexfile: output name is required")
	}
	if params.Column == "" {
		return nil, errdefs.Configf("indexfile: column is required")
	}
	if len(partitions) != w.ivf.NumPartitions() {
		return nil, errdefs.Configf("indexfile: %d partition files for %d partitions", len(partitions), w.ivf.NumPartitions())
	}

	wb, err := store.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("indexfile: create %s: %w", name, err)
	}
	res, err := w.merge(ctx, store, wb, partitions, name, params)
	if err != nil {
		_ = wb.Close()
		_ = store.Delete(ctx, name)
		return nil, err
	}

	if params.DeleteInputs {
		// The artifact is sealed by now. A failure here leaves valid
		// output plus stale inputs; rerunning the stage is safe.
		for _, in := range partitions {
			if err := store.Delete(ctx, in); err != nil {
				return nil, fmt.Errorf("indexfile: delete input %s: %w", in, err)
			}
		}
	}
	return res, nil
}

func (w *Writer) merge(ctx context.Context, store objectstore.Store, wb objectstore.WritableBlob, partitions []string, name string, params Params) (*Result, error) {
	var (
		entryLen = 8 + w.pq.CodeSize()
		entry    = make([]byte, entryLen)
		bw       = bufio.NewWriterSize(wb, fileBufferSize)
		offsets  = make([]uint64, len(partitions))
		lengths  = make([]uint32, len(partitions))
		rows     int64
	)

	for p, in := range partitions {
		offsets[p] = uint64(rows)
		n, err := w.copyPartition(ctx, bw, store, in, uint32(p), entry)
		if err != nil {
			return nil, err
		}
		lengths[p] = n
		rows += int64(n)
	}

	sealed := w.ivf.Clone()
	sealed.Offsets = offsets
	sealed.Lengths = lengths

	md, err := newMetadata(params.Column, params.DatasetVersion, sealed, w.pq)
	if err != nil {
		return nil, err
	}
	c := params.Codec
	if c == nil {
		c = codec.Default
	}
	meta, err := c.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("indexfile: encode metadata: %w", err)
	}
	if _, err := bw.Write(meta); err != nil {
		return nil, fmt.Errorf("indexfile: write %s: %w", name, err)
	}

	metaOff := uint64(rows) * uint64(entryLen)
	tbuf := make([]byte, trailerLen)
	trailer{metaOffset: metaOff, major: FormatMajor, minor: FormatMinor}.encode(tbuf)
	if _, err := bw.Write(tbuf); err != nil {
		return nil, fmt.Errorf("indexfile: write %s: %w", name, err)
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("indexfile: flush %s: %w", name, err)
	}
	if err := wb.Sync(); err != nil {
		return nil, fmt.Errorf("indexfile: sync %s: %w", name, err)
	}
	if err := wb.Close(); err != nil {
		return nil, fmt.Errorf("indexfile: close %s: %w", name, err)
	}

	return &Result{
		Output: name,
		Model:  sealed,
		Rows:   rows,
		Bytes:  int64(metaOff) + int64(len(meta)) + trailerLen,
	}, nil
}

// copyPartition streams one partition file into the entry region,
// verifying every record actually belongs to partition p.
func (w *Writer) copyPartition(ctx context.Context, bw *bufio.Writer, store objectstore.Store, name string, p uint32, entry []byte) (uint32, error) {
	fr, err := transform.OpenFile(ctx, store, name)
	if err != nil {
		return 0, fmt.Errorf("indexfile: %w", err)
	}
	defer fr.Close()

	if fr.M() != w.pq.CodeSize() {
		return 0, errdefs.Configf("indexfile: partition file %s carries %d-byte codes, quantizer emits %d", name, fr.M(), w.pq.CodeSize())
	}

	var (
		rec   transform.Record
		count uint32
	)
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if err := fr.Next(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if rec.PartitionID != p {
			return 0, errdefs.Configf("indexfile: record in %s names partition %d, expected %d", name, rec.PartitionID, p)
		}
		binary.LittleEndian.PutUint64(entry[:8], rec.RowID)
		copy(entry[8:], rec.Code)
		if _, err := bw.Write(entry); err != nil {
			return 0, fmt.Errorf("indexfile: write entry: %w", err)
		}
		count++
	}
}
