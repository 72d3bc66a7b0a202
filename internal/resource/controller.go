package resource

import (
	"context"
	"io"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits for one ivarator.
type Config struct {
	// MaxOpenFiles caps the number of spill files held open at once.
	// It is clamped to half the process RLIMIT_NOFILE where that is known.
	// If 0, defaults to 1.
	MaxOpenFiles int64

	// MaxWorkers is the maximum number of concurrent population workers.
	// If 0, defaults to 1.
	MaxWorkers int64

	// IOLimitBytesPerSec is the maximum spill write throughput.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages the file, worker and IO budget of an ivarator.
type Controller struct {
	cfg Config

	fileSem   *semaphore.Weighted
	openFiles atomic.Int64
	peakFiles atomic.Int64

	workerSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = 1
	}
	if lim := FileLimit(); lim > 0 {
		cfg.MaxOpenFiles = max(1, min(cfg.MaxOpenFiles, lim/2))
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}

	c := &Controller{
		cfg:       cfg,
		fileSem:   semaphore.NewWeighted(cfg.MaxOpenFiles),
		workerSem: semaphore.NewWeighted(cfg.MaxWorkers),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}

	return c
}

// MaxOpenFiles returns the effective open-file cap.
func (c *Controller) MaxOpenFiles() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MaxOpenFiles
}

// AcquireFiles blocks until n file slots are available.
func (c *Controller) AcquireFiles(ctx context.Context, n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	if err := c.fileSem.Acquire(ctx, n); err != nil {
		return err
	}
	open := c.openFiles.Add(n)
	for {
		peak := c.peakFiles.Load()
		if open <= peak || c.peakFiles.CompareAndSwap(peak, open) {
			break
		}
	}
	return nil
}

// ReleaseFiles returns n file slots.
func (c *Controller) ReleaseFiles(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.openFiles.Add(-n)
	c.fileSem.Release(n)
}

// OpenFiles returns the number of file slots currently held.
func (c *Controller) OpenFiles() int64 {
	if c == nil {
		return 0
	}
	return c.openFiles.Load()
}

// PeakOpenFiles returns the highest number of file slots held at once.
func (c *Controller) PeakOpenFiles() int64 {
	if c == nil {
		return 0
	}
	return c.peakFiles.Load()
}

// AcquireWorker reserves a worker slot, blocking if all slots are busy.
func (c *Controller) AcquireWorker(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.workerSem.Acquire(ctx, 1)
}

// TryAcquireWorker attempts to reserve a worker slot without blocking.
func (c *Controller) TryAcquireWorker() bool {
	if c == nil {
		return true
	}
	return c.workerSem.TryAcquire(1)
}

// ReleaseWorker releases a worker slot.
func (c *Controller) ReleaseWorker() {
	if c == nil {
		return
	}
	c.workerSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	// WaitN rejects requests larger than the burst; split them.
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// RateLimitedWriter throttles writes through a Controller's IO limiter.
type RateLimitedWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// NewRateLimitedWriter wraps w.
func NewRateLimitedWriter(ctx context.Context, w io.Writer, c *Controller) *RateLimitedWriter {
	return &RateLimitedWriter{ctx: ctx, w: w, c: c}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	if err := w.c.AcquireIO(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.w.Write(p)
}
