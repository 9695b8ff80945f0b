package persistence

import (
	"encoding/binary"
	"errors"
	"io"
	"unsafe"
)

var (
	// ErrInvalidMagic is returned when an artifact does not start with the
	// expected magic number.
	ErrInvalidMagic = errors.New("invalid magic number")
	// ErrInvalidVersion is returned for artifacts written by an
	// incompatible format version.
	ErrInvalidVersion = errors.New("unsupported version")
)

// BinaryWriter writes model artifacts in little-endian binary format.
type BinaryWriter struct {
	w       io.Writer
	scratch [8]byte
}

// NewBinaryWriter creates a new binary writer.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{w: w}
}

// WriteUint16 writes a single little-endian uint16.
func (bw *BinaryWriter) WriteUint16(v uint16) error {
	binary.LittleEndian.PutUint16(bw.scratch[:2], v)
	_, err := bw.w.Write(bw.scratch[:2])
	return err
}

// WriteUint32 writes a single little-endian uint32.
func (bw *BinaryWriter) WriteUint32(v uint32) error {
	binary.LittleEndian.PutUint32(bw.scratch[:4], v)
	_, err := bw.w.Write(bw.scratch[:4])
	return err
}

// WriteUint64 writes a single little-endian uint64.
func (bw *BinaryWriter) WriteUint64(v uint64) error {
	binary.LittleEndian.PutUint64(bw.scratch[:8], v)
	_, err := bw.w.Write(bw.scratch[:8])
	return err
}

// WriteBytes writes raw bytes.
func (bw *BinaryWriter) WriteBytes(b []byte) error {
	_, err := bw.w.Write(b)
	return err
}

// WriteFloat32Slice writes a float32 slice as raw bytes (zero-copy).
// Safety: validates alignment before the unsafe conversion.
func (bw *BinaryWriter) WriteFloat32Slice(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	if err := validateFloat32SliceAlignment(vec); err != nil {
		return err
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	_, err := bw.w.Write(byteSlice)
	return err
}

// WriteUint32Slice writes a uint32 slice as raw bytes.
// Safety: validates alignment before the unsafe conversion.
func (bw *BinaryWriter) WriteUint32Slice(slice []uint32) error {
	if len(slice) == 0 {
		return nil
	}
	if err := validateUint32SliceAlignment(slice); err != nil {
		return err
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), len(slice)*4)
	_, err := bw.w.Write(byteSlice)
	return err
}

// WriteUint64Slice writes a uint64 slice as raw bytes.
// Safety: validates alignment before the unsafe conversion.
func (bw *BinaryWriter) WriteUint64Slice(slice []uint64) error {
	if len(slice) == 0 {
		return nil
	}
	if err := validateUint64SliceAlignment(slice); err != nil {
		return err
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), len(slice)*8)
	_, err := bw.w.Write(byteSlice)
	return err
}

// BinaryReader reads model artifacts written by BinaryWriter.
type BinaryReader struct {
	r       io.Reader
	scratch [8]byte
}

// NewBinaryReader creates a new binary reader.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{r: r}
}

// ReadUint16 reads a single little-endian uint16.
func (br *BinaryReader) ReadUint16() (uint16, error) {
	if _, err := io.ReadFull(br.r, br.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(br.scratch[:2]), nil
}

// ReadUint32 reads a single little-endian uint32.
func (br *BinaryReader) ReadUint32() (uint32, error) {
	if _, err := io.ReadFull(br.r, br.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(br.scratch[:4]), nil
}

// ReadUint64 reads a single little-endian uint64.
func (br *BinaryReader) ReadUint64() (uint64, error) {
	if _, err := io.ReadFull(br.r, br.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(br.scratch[:8]), nil
}

// ReadBytes reads exactly len(b) bytes into b.
func (br *BinaryReader) ReadBytes(b []byte) error {
	_, err := io.ReadFull(br.r, b)
	return err
}

// ReadFloat32Slice reads count float32 values.
func (br *BinaryReader) ReadFloat32Slice(count int) ([]float32, error) {
	if count == 0 {
		return nil, nil
	}
	vec := make([]float32, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), count*4)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}
	return vec, nil
}

// ReadFloat32SliceInto reads len(vec) float32 values into vec.
func (br *BinaryReader) ReadFloat32SliceInto(vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vec[0])), len(vec)*4)
	_, err := io.ReadFull(br.r, byteSlice)
	return err
}

// ReadUint32Slice reads count uint32 values.
func (br *BinaryReader) ReadUint32Slice(count int) ([]uint32, error) {
	if count == 0 {
		return nil, nil
	}
	slice := make([]uint32, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), count*4)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}
	return slice, nil
}

// ReadUint64Slice reads count uint64 values.
func (br *BinaryReader) ReadUint64Slice(count int) ([]uint64, error) {
	if count == 0 {
		return nil, nil
	}
	slice := make([]uint64, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&slice[0])), count*8)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}
	return slice, nil
}
