// Package resource implements the per-ivarator resource controller.
//
// The Controller bounds three resources while an ivarator populates its cache:
//
//   - Files: a weighted semaphore caps spill files held open at once
//     (writers, compaction inputs, merge readers). The cap is clamped by the
//     process RLIMIT_NOFILE.
//   - Workers: caps the range-split population workers.
//   - IO: a token bucket rate-limits spill writes.
//
// # Usage
//
//	rc := resource.NewController(resource.Config{
//	    MaxOpenFiles:       100,
//	    MaxWorkers:         4,
//	    IOLimitBytesPerSec: 64 << 20,
//	})
//
//	if err := rc.AcquireFiles(ctx, 1); err != nil {
//	    return err
//	}
//	defer rc.ReleaseFiles(1)
//
//	w := resource.NewRateLimitedWriter(ctx, blob, rc)
//
// # Nil Safety
//
// All methods handle nil Controller gracefully; they become no-ops.
package resource
