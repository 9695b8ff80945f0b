package resource

import (
	"context"
	"io"

	"github.com/quiverdb/quiver/objectstore"
)

// ThrottleStore wraps store so every read and write counts against the
// controller's I/O limit. The store is returned unchanged when c is nil
// or no limit is configured.
//
// Wrapped blobs do not pass through optional interfaces such as
// objectstore.Mappable: zero-copy access would bypass the limiter.
func ThrottleStore(store objectstore.Store, c *Controller) objectstore.Store {
	if c == nil || c.ioLimiter == nil {
		return store
	}
	return &throttledStore{store: store, c: c}
}

type throttledStore struct {
	store objectstore.Store
	c     *Controller
}

func (t *throttledStore) Open(ctx context.Context, name string) (objectstore.Blob, error) {
	blob, err := t.store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &throttledBlob{Blob: blob, c: t.c}, nil
}

// Create returns a write handle whose throttling waits are governed by
// ctx, matching the lifetime of the streaming write it starts.
func (t *throttledStore) Create(ctx context.Context, name string) (objectstore.WritableBlob, error) {
	wb, err := t.store.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &throttledWritableBlob{WritableBlob: wb, limited: NewRateLimitedWriter(ctx, wb, t.c)}, nil
}

func (t *throttledStore) Put(ctx context.Context, name string, data []byte) error {
	if err := t.c.AcquireIO(ctx, len(data)); err != nil {
		return err
	}
	return t.store.Put(ctx, name, data)
}

func (t *throttledStore) Delete(ctx context.Context, name string) error {
	return t.store.Delete(ctx, name)
}

func (t *throttledStore) List(ctx context.Context, prefix string) ([]string, error) {
	return t.store.List(ctx, prefix)
}

type throttledBlob struct {
	objectstore.Blob
	c *Controller
}

func (b *throttledBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := b.c.AcquireIO(ctx, len(p)); err != nil {
		return 0, err
	}
	return b.Blob.ReadAt(ctx, p, off)
}

func (b *throttledBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	rc, err := b.Blob.ReadRange(ctx, off, length)
	if err != nil {
		return nil, err
	}
	return &throttledReadCloser{
		Reader: NewRateLimitedReader(ctx, rc, b.c),
		closer: rc,
	}, nil
}

type throttledReadCloser struct {
	io.Reader
	closer io.Closer
}

func (r *throttledReadCloser) Close() error { return r.closer.Close() }

type throttledWritableBlob struct {
	objectstore.WritableBlob
	limited *RateLimitedWriter
}

func (b *throttledWritableBlob) Write(p []byte) (int, error) {
	return b.limited.Write(p)
}
