package resource

import (
	"context"
	"io"
)

// RateLimitedWriter wraps an io.Writer with the controller's I/O limit.
// The context passed at construction governs throttling waits.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// NewRateLimitedWriter creates a new RateLimitedWriter.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, c *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{
		ctx: ctx,
		w:   w,
		c:   c,
	}
}

func (w *RateLimitedWriter) Write(p []byte) (n int, err error) {
	if err := w.c.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}

// RateLimitedReader wraps an io.Reader with the controller's I/O limit.
// It waits for len(p) before each read; a short read over-waits by at
// most one buffer.
type RateLimitedReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// NewRateLimitedReader creates a new RateLimitedReader.
func NewRateLimitedReader(ctx context.Context, r io.Reader, c *Controller) *RateLimitedReader {
	return &RateLimitedReader{
		ctx: ctx,
		r:   r,
		c:   c,
	}
}

func (r *RateLimitedReader) Read(p []byte) (n int, err error) {
	if err := r.c.AcquireIO(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
