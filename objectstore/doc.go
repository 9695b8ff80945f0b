// Package objectstore provides the storage abstraction for index build
// artifacts: unsorted transform files, shuffled partition files, trained
// models and sealed index files.
//
// Store is the interface for reading and writing objects. Implementations
// must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - Local: local filesystem with mmap reads and atomic rename writes
//   - Memory: in-memory store for tests
//   - s3.Store: Amazon S3 with range reads and streaming multipart uploads
//   - minio.Store: MinIO and other S3-compatible services
//
// # Custom Implementations
//
// Implement the Store interface to support custom backends:
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)            // Open for reading
//	    Create(ctx, name) (WritableBlob, error)  // Create for streaming writes
//	    Put(ctx, name, data) error               // One-shot write
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// For cloud backends, implement ReadRange for efficient partial reads.
package objectstore
