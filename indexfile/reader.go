package indexfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/quiverdb/quiver/codec"
	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/ivf"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/quantization"
)

// Entry is one row's worth of index payload: the stable dataset row id
// and its M-byte quantized code.
type Entry struct {
	RowID uint64
	Code  []byte
}

// Reader gives access to a sealed artifact: the models recorded in its
// metadata block and per-partition entry streams.
type Reader struct {
	blob     objectstore.Blob
	meta     Metadata
	model    *ivf.Model
	pq       *quantization.ProductQuantizer
	major    uint16
	minor    uint16
	entryLen int64
	rows     int64
}

// Open seeks the trailer of a sealed artifact, reparses the metadata
// block it points at, and rebuilds the models stored there. Files
// without a valid trailer fail with ErrUnsealed. c defaults to
// codec.Default.
func Open(ctx context.Context, store objectstore.Store, name string, c codec.Codec) (*Reader, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("indexfile: open %s: %w", name, err)
	}
	r, err := newReader(ctx, blob, c)
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return r, nil
}

func newReader(ctx context.Context, blob objectstore.Blob, c codec.Codec) (*Reader, error) {
	size := blob.Size()
	if size < trailerLen {
		return nil, fmt.Errorf("%w: %d-byte file cannot hold a trailer", ErrUnsealed, size)
	}
	tbuf := make([]byte, trailerLen)
	if _, err := blob.ReadAt(ctx, tbuf, size-trailerLen); err != nil {
		return nil, fmt.Errorf("read trailer: %w", err)
	}
	t, err := decodeTrailer(tbuf)
	if err != nil {
		return nil, err
	}

	metaEnd := size - trailerLen
	if t.metaOffset > uint64(metaEnd) {
		return nil, fmt.Errorf("%w: metadata offset %d beyond %d-byte file", ErrUnsealed, t.metaOffset, size)
	}
	metaBuf := make([]byte, metaEnd-int64(t.metaOffset))
	if len(metaBuf) > 0 {
		if _, err := blob.ReadAt(ctx, metaBuf, int64(t.metaOffset)); err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
	}
	if c == nil {
		c = codec.Default
	}
	var md Metadata
	if err := c.Unmarshal(metaBuf, &md); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	model, pq, err := md.models()
	if err != nil {
		return nil, err
	}

	r := &Reader{
		blob:     blob,
		meta:     md,
		model:    model,
		pq:       pq,
		major:    t.major,
		minor:    t.minor,
		entryLen: int64(8 + pq.CodeSize()),
	}
	for _, n := range model.Lengths {
		r.rows += int64(n)
	}
	if err := r.checkLayout(t.metaOffset); err != nil {
		return nil, err
	}
	return r, nil
}

// checkLayout verifies the recorded partition layout is contiguous and
// fills the file exactly up to the metadata block.
func (r *Reader) checkLayout(metaOffset uint64) error {
	if !r.model.Sealed() {
		return errdefs.Configf("indexfile: metadata carries no partition layout")
	}
	var next uint64
	for p, off := range r.model.Offsets {
		if off != next {
			return errdefs.Configf("indexfile: partition %d starts at row %d, expected %d", p, off, next)
		}
		next = off + uint64(r.model.Lengths[p])
	}
	if next*uint64(r.entryLen) != metaOffset {
		return errdefs.Configf("indexfile: %d rows of %d bytes do not reach metadata at offset %d", next, r.entryLen, metaOffset)
	}
	return nil
}

// Metadata returns the parsed metadata document.
func (r *Reader) Metadata() Metadata { return r.meta }

// Model returns the sealed coarse model recorded in the artifact.
// Callers must treat it as read-only.
func (r *Reader) Model() *ivf.Model { return r.model }

// Quantizer returns the codebook recorded in the artifact. Callers must
// treat it as read-only.
func (r *Reader) Quantizer() *quantization.ProductQuantizer { return r.pq }

// Rows returns the total entry count.
func (r *Reader) Rows() int64 { return r.rows }

// NumPartitions returns the partition count.
func (r *Reader) NumPartitions() int { return r.model.NumPartitions() }

// FormatVersion returns the container version from the trailer.
func (r *Reader) FormatVersion() (major, minor uint16) { return r.major, r.minor }

// Partition streams partition p's entries in merge order.
func (r *Reader) Partition(ctx context.Context, p int) (*PartitionReader, error) {
	if p < 0 || p >= r.model.NumPartitions() {
		return nil, errdefs.Configf("indexfile: partition %d out of range [0, %d)", p, r.model.NumPartitions())
	}
	off := int64(r.model.Offsets[p]) * r.entryLen
	length := int64(r.model.Lengths[p]) * r.entryLen
	rc, err := r.blob.ReadRange(ctx, off, length)
	if err != nil {
		return nil, fmt.Errorf("indexfile: read partition %d: %w", p, err)
	}
	return &PartitionReader{
		rc: rc,
		br: bufio.NewReaderSize(rc, fileBufferSize),
		m:  r.pq.CodeSize(),
	}, nil
}

// Close releases the artifact handle. Partition readers obtained from
// this Reader must be closed first.
func (r *Reader) Close() error { return r.blob.Close() }

// PartitionReader iterates one partition's entries.
type PartitionReader struct {
	rc  io.ReadCloser
	br  *bufio.Reader
	m   int
	buf []byte
}

// Next reads the next entry into e, reusing e.Code when it has enough
// capacity. It returns io.EOF at the end of the partition.
func (pr *PartitionReader) Next(e *Entry) error {
	if pr.buf == nil {
		pr.buf = make([]byte, 8+pr.m)
	}
	if _, err := io.ReadFull(pr.br, pr.buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("indexfile: truncated entry: %w", err)
		}
		return err
	}
	e.RowID = binary.LittleEndian.Uint64(pr.buf[:8])
	if cap(e.Code) < pr.m {
		e.Code = make([]byte, pr.m)
	}
	e.Code = e.Code[:pr.m]
	copy(e.Code, pr.buf[8:])
	return nil
}

// Close releases the partition's range reader. The parent Reader stays
// open.
func (pr *PartitionReader) Close() error { return pr.rc.Close() }
