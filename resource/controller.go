package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMappedLimitExceeded is returned when mapping more bytes would exceed
// the configured mapped-memory limit.
var ErrMappedLimitExceeded = errors.New("mapped memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MappedLimitBytes caps the total bytes of live segment mappings across
	// all stores sharing the controller. If 0, usage is only tracked.
	MappedLimitBytes int64

	// MaxFlushWorkers is the number of segments msync'ed concurrently during
	// a flush. If 0, defaults to 1.
	MaxFlushWorkers int64

	// IOLimitBytesPerSec caps backup and restore throughput. If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages shared resource limits. It is safe for concurrent use.
type Controller struct {
	cfg Config

	mappedSem  *semaphore.Weighted // nil if unlimited
	mappedUsed atomic.Int64

	workers *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxFlushWorkers <= 0 {
		cfg.MaxFlushWorkers = 1
	}

	c := &Controller{
		cfg:     cfg,
		workers: semaphore.NewWeighted(cfg.MaxFlushWorkers),
	}

	if cfg.MappedLimitBytes > 0 {
		c.mappedSem = semaphore.NewWeighted(cfg.MappedLimitBytes)
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// AcquireMapped reserves bytes of mapped address space.
// Non-blocking: returns ErrMappedLimitExceeded if the limit would be exceeded.
func (c *Controller) AcquireMapped(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.mappedSem != nil {
		if !c.mappedSem.TryAcquire(bytes) {
			return ErrMappedLimitExceeded
		}
	}

	c.mappedUsed.Add(bytes)
	return nil
}

// ReleaseMapped returns bytes reserved with AcquireMapped.
func (c *Controller) ReleaseMapped(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}

	if c.mappedSem != nil {
		c.mappedSem.Release(bytes)
	}
	c.mappedUsed.Add(-bytes)
}

// MappedUsage returns the bytes currently mapped.
func (c *Controller) MappedUsage() int64 {
	if c == nil {
		return 0
	}
	return c.mappedUsed.Load()
}

// MappedLimit returns the configured mapped-memory limit (0 if unlimited).
func (c *Controller) MappedLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MappedLimitBytes
}

// FlushWorkers returns how many segments may be flushed concurrently.
func (c *Controller) FlushWorkers() int {
	if c == nil {
		return 1
	}
	return int(c.cfg.MaxFlushWorkers)
}

// AcquireWorker reserves a flush worker slot, blocking while all are busy.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workers.Acquire(ctx, 1)
}

// TryAcquireWorker reserves a flush worker slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	if c == nil {
		return true
	}
	return c.workers.TryAcquire(1)
}

// ReleaseWorker releases a flush worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workers.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	// WaitN rejects requests larger than the burst; split them.
	burst := c.ioLimiter.Burst()
	for bytes > burst {
		if err := c.ioLimiter.WaitN(ctx, burst); err != nil {
			return err
		}
		bytes -= burst
	}
	return c.ioLimiter.WaitN(ctx, bytes)
}

// TryAcquireIO attempts to acquire IO tokens without blocking.
func (c *Controller) TryAcquireIO(bytes int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), bytes)
}
