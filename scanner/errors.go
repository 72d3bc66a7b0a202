package scanner

import "errors"

var (
	// ErrScanTimeout is returned when cache population exceeds ScanTimeout.
	ErrScanTimeout = errors.New("ivarator scan timeout")
	// ErrNotInitialized is returned when a scanner is iterated before Init.
	ErrNotInitialized = errors.New("scanner not initialized")
	// ErrAlreadyInitialized is returned by a second Init call.
	ErrAlreadyInitialized = errors.New("scanner already initialized")
)
