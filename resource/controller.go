// Package resource bounds a build's resource usage: how many transform
// jobs run at once and how fast the pipeline reads and writes the
// object store.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds build resource limits.
type Config struct {
	// MaxConcurrentJobs is the maximum number of concurrently running
	// transform jobs. If 0, defaults to 1.
	MaxConcurrentJobs int64

	// IOBytesPerSec is the maximum combined store I/O throughput.
	// If 0, unlimited.
	IOBytesPerSec int64
}

// Controller manages shared build resources. A single controller can be
// shared by several pipelines to enforce one global limit.
type Controller struct {
	cfg Config

	jobSem    *semaphore.Weighted
	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}

	c := &Controller{
		cfg:    cfg,
		jobSem: semaphore.NewWeighted(cfg.MaxConcurrentJobs),
	}

	if cfg.IOBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOBytesPerSec), int(cfg.IOBytesPerSec))
	}

	return c
}

// JobLimit returns the configured job concurrency.
func (c *Controller) JobLimit() int64 {
	return c.cfg.MaxConcurrentJobs
}

// AcquireJob reserves a job slot. Blocks if all slots are busy.
func (c *Controller) AcquireJob(ctx context.Context) error {
	return c.jobSem.Acquire(ctx, 1)
}

// TryAcquireJob reserves a job slot without blocking.
func (c *Controller) TryAcquireJob() bool {
	return c.jobSem.TryAcquire(1)
}

// ReleaseJob releases a job slot.
func (c *Controller) ReleaseJob() {
	c.jobSem.Release(1)
}

// AcquireIO waits until the I/O limit allows the specified number of
// bytes. Requests larger than the burst window are satisfied in
// burst-sized steps.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := bytes
		if n > burst {
			n = burst
		}
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
