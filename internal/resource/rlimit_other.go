//go:build !unix

package resource

// FileLimit returns 0: no descriptor limit is known on this platform.
func FileLimit() int64 {
	return 0
}
