package dataset

import (
	"context"
	"errors"

	"github.com/quiverdb/quiver/objectstore"
)

// DefaultBatchSize is the number of rows per scan batch unless overridden.
const DefaultBatchSize = 8192

var (
	// ErrColumnNotFound is returned when a scan names an unknown column.
	ErrColumnNotFound = errors.New("dataset: column not found")
	// ErrFragmentNotFound is returned when a scan restricts to a fragment
	// id the dataset does not have.
	ErrFragmentNotFound = errors.New("dataset: fragment not found")
)

// ElemType is the physical element type of a vector column.
type ElemType int

const (
	// Float32 stores elements as IEEE 754 single precision.
	Float32 ElemType = iota
	// Float16 stores elements as IEEE 754 half precision; scans widen them
	// to float32.
	Float16
)

func (e ElemType) String() string {
	switch e {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	default:
		return "unknown"
	}
}

// ColumnInfo describes a fixed-size vector column.
type ColumnInfo struct {
	Name     string
	Dim      int
	ElemType ElemType
}

// Batch is one unit of a column scan: parallel row ids and flattened
// float32 vectors. Vectors holds len(RowIDs)*Dim values.
type Batch struct {
	RowIDs  []uint64
	Vectors []float32
	Dim     int
}

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	return len(b.RowIDs)
}

// ScanOptions configures a column scan.
type ScanOptions struct {
	// Column names the vector column to read.
	Column string
	// BatchSize is the maximum rows per batch; DefaultBatchSize when zero.
	BatchSize int
	// Fragments restricts the scan to the given fragment ids. Nil scans all
	// fragments. Unknown ids are an error.
	Fragments []uint32
}

// Scanner streams batches of a column. Next returns io.EOF after the last
// batch.
type Scanner interface {
	Next(ctx context.Context) (*Batch, error)
	Close() error
}

// Dataset is the narrow surface of the host table the build pipeline reads.
// Implementations must tolerate concurrent scans.
type Dataset interface {
	// Column returns schema information for a vector column.
	Column(name string) (ColumnInfo, error)
	// Scan opens a batched stream over a column, with stable row ids.
	Scan(ctx context.Context, opts ScanOptions) (Scanner, error)
	// CountRows returns the number of live (non-deleted) rows.
	CountRows(ctx context.Context) (uint64, error)
	// Fragments lists the dataset's fragment ids in storage order.
	Fragments() []uint32
	// Version identifies the dataset state an index build reads from.
	Version() uint64
	// Indices returns the writable location for this dataset's index
	// artifacts.
	Indices() objectstore.Store
}

// MakeRowID packs a fragment id and a row offset within the fragment into
// the stable row id used across transform, shuffle and the sealed index.
func MakeRowID(fragment, offset uint32) uint64 {
	return uint64(fragment)<<32 | uint64(offset)
}

// SplitRowID is the inverse of MakeRowID.
func SplitRowID(id uint64) (fragment, offset uint32) {
	return uint32(id >> 32), uint32(id)
}
