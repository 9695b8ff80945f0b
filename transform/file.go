package transform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/quiverdb/quiver/errdefs"
	"github.com/quiverdb/quiver/objectstore"
	"github.com/quiverdb/quiver/persistence"
)

// Vector files carry transformed records between pipeline stages: a
// 12-byte uncompressed header, then an EOF-terminated stream of
// fixed-size records, optionally wrapped in a compression frame.
var fileMagic = [4]byte{'Q', 'V', 'F', '0'}

const (
	fileVersion   = uint16(1)
	fileHeaderLen = 12

	fileBufferSize = 256 * 1024
)

func writeFileHeader(w io.Writer, comp Compression, m int) error {
	var buf [fileHeaderLen]byte
	copy(buf[0:4], fileMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], fileVersion)
	buf[6] = byte(comp)
	// buf[7] reserved
	binary.LittleEndian.PutUint16(buf[8:10], uint16(m))
	// buf[10:12] reserved
	_, err := w.Write(buf[:])
	return err
}

func readFileHeader(r io.Reader) (Compression, int, error) {
	var buf [fileHeaderLen]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, 0, fmt.Errorf("vector file: short header: %w", io.ErrUnexpectedEOF)
		}
		return 0, 0, fmt.Errorf("vector file: read header: %w", err)
	}
	if !bytes.Equal(buf[0:4], fileMagic[:]) {
		return 0, 0, fmt.Errorf("vector file: %w: got %q", persistence.ErrInvalidMagic, buf[0:4])
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != fileVersion {
		return 0, 0, fmt.Errorf("vector file: %w: got %d", persistence.ErrInvalidVersion, v)
	}
	comp := Compression(buf[6])
	switch comp {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return 0, 0, errdefs.Configf("vector file: unknown compression %d", buf[6])
	}
	m := int(binary.LittleEndian.Uint16(buf[8:10]))
	if m == 0 {
		return 0, 0, errdefs.Configf("vector file: zero subvectors in header")
	}
	return comp, m, nil
}

// FileWriter streams records into a vector file. Records buffer through
// the compression frame; nothing is durable until Close returns nil.
type FileWriter struct {
	wc      io.WriteCloser
	frame   io.Closer
	w       *bufio.Writer
	m       int
	scratch []byte
	count   int64
	closed  bool
}

// NewFileWriter writes a header for m-byte codes to wc and returns a
// writer appending records through the selected compression.
func NewFileWriter(wc io.WriteCloser, comp Compression, m int) (*FileWriter, error) {
	if m <= 0 || m > math.MaxUint16 {
		return nil, errdefs.Configf("vector file: %d subvectors out of range", m)
	}
	if err := writeFileHeader(wc, comp, m); err != nil {
		return nil, fmt.Errorf("vector file: write header: %w", err)
	}

	fw := &FileWriter{wc: wc, m: m, scratch: make([]byte, EncodedSize(m))}
	switch comp {
	case CompressionNone:
		fw.w = bufio.NewWriterSize(wc, fileBufferSize)
	case CompressionLZ4:
		lw := lz4.NewWriter(wc)
		fw.frame = lw
		fw.w = bufio.NewWriterSize(lw, fileBufferSize)
	case CompressionZstd:
		zw, err := zstd.NewWriter(wc, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("vector file: zstd frame: %w", err)
		}
		fw.frame = zw
		fw.w = bufio.NewWriterSize(zw, fileBufferSize)
	default:
		return nil, errdefs.Configf("vector file: unknown compression %d", comp)
	}
	return fw, nil
}

// M returns the code width the writer accepts.
func (fw *FileWriter) M() int {
	return fw.m
}

// Append writes one record. The code must be M bytes.
func (fw *FileWriter) Append(r Record) error {
	if len(r.Code) != fw.m {
		return errdefs.Configf("vector file: code has %d bytes, want %d", len(r.Code), fw.m)
	}
	r.encode(fw.scratch)
	if _, err := fw.w.Write(fw.scratch); err != nil {
		return err
	}
	fw.count++
	return nil
}

// Count returns the number of records appended so far.
func (fw *FileWriter) Count() int64 {
	return fw.count
}

// Close flushes buffered records, finalizes the compression frame and
// closes the underlying writer. Close is idempotent.
func (fw *FileWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true

	err := fw.w.Flush()
	if fw.frame != nil {
		if cerr := fw.frame.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := fw.wc.Close(); err == nil {
		err = cerr
	}
	return err
}

// FileReader streams records back out of a vector file.
type FileReader struct {
	rc   io.ReadCloser
	r    io.Reader
	zd   *zstd.Decoder
	m    int
	comp Compression
	buf  []byte
}

// NewFileReader reads the header from rc and prepares record streaming.
// The reader owns rc and closes it on Close.
func NewFileReader(rc io.ReadCloser) (*FileReader, error) {
	br := bufio.NewReaderSize(rc, fileBufferSize)
	comp, m, err := readFileHeader(br)
	if err != nil {
		return nil, err
	}

	fr := &FileReader{rc: rc, m: m, comp: comp, buf: make([]byte, EncodedSize(m))}
	switch comp {
	case CompressionNone:
		fr.r = br
	case CompressionLZ4:
		fr.r = lz4.NewReader(br)
	case CompressionZstd:
		zd, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("vector file: zstd frame: %w", err)
		}
		fr.zd = zd
		fr.r = zd
	}
	return fr, nil
}

// OpenFile opens a vector file in the store for streaming reads.
func OpenFile(ctx context.Context, store objectstore.Store, name string) (*FileReader, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	rr, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	fr, err := NewFileReader(&blobReadCloser{rc: rr, blob: blob})
	if err != nil {
		_ = rr.Close()
		_ = blob.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return fr, nil
}

// M returns the code width of the file's records.
func (fr *FileReader) M() int {
	return fr.m
}

// Compression returns the file's frame codec.
func (fr *FileReader) Compression() Compression {
	return fr.comp
}

// Next reads one record into rec, reusing rec.Code when it has
// capacity. It returns io.EOF at the end of the stream.
func (fr *FileReader) Next(rec *Record) error {
	if _, err := io.ReadFull(fr.r, fr.buf); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("vector file: truncated record: %w", err)
		}
		return err
	}
	rec.decode(fr.buf, fr.m)
	return nil
}

// Close releases the decompressor and closes the underlying reader.
func (fr *FileReader) Close() error {
	if fr.zd != nil {
		fr.zd.Close()
		fr.zd = nil
	}
	return fr.rc.Close()
}

// blobReadCloser ties a range reader's lifetime to its blob.
type blobReadCloser struct {
	rc   io.ReadCloser
	blob objectstore.Blob
}

func (b *blobReadCloser) Read(p []byte) (int, error) {
	return b.rc.Read(p)
}

func (b *blobReadCloser) Close() error {
	err := b.rc.Close()
	if cerr := b.blob.Close(); err == nil {
		err = cerr
	}
	return err
}
