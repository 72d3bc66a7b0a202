//go:build unix

package resource

import (
	"math"

	"golang.org/x/sys/unix"
)

// FileLimit returns the soft RLIMIT_NOFILE of the process, or 0 if unknown.
func FileLimit() int64 {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0
	}
	if rl.Cur == unix.RLIM_INFINITY || rl.Cur > math.MaxInt64 {
		return 0
	}
	return int64(rl.Cur)
}
