package objectstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned when an object does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is the object storage surface the build pipeline works against.
// Objects are written once via Create or Put and never modified in place.
// Implementations must be safe for concurrent use.
type Store interface {
	// Open opens an object for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create starts a streaming write. The object becomes visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a small object in one shot.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all objects with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to an object.
type Blob interface {
	// ReadAt reads len(p) bytes starting at offset off.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	// ReadRange returns a reader over [off, off+length). Short ranges at the
	// end of the object are truncated, not errors.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	// Size returns the size of the object in bytes.
	Size() int64
	Close() error
}

// WritableBlob is a streaming write handle returned by Store.Create.
type WritableBlob interface {
	io.Writer
	// Sync flushes written data to durable storage where the backend
	// supports it. Object stores that only commit on Close treat it as a
	// no-op.
	Sync() error
	// Close finalizes the object. The object is not visible until Close
	// returns nil.
	Close() error
}

// Mappable is an optional interface for Blobs that expose their contents
// as a byte slice without copying.
type Mappable interface {
	// Bytes returns the underlying byte slice.
	// The slice is valid until the Blob is closed.
	Bytes() ([]byte, error)
}
