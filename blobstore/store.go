package blobstore

import (
	"context"
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrAborted is returned by writes to a blob after Abort.
var ErrAborted = errors.New("blob write aborted")

// BlobStore is an abstraction for reading and writing immutable data blobs
// (spill runs, completion markers, FSTs).
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)
	// Create creates a blob for streaming writes. The blob becomes visible
	// on Close and never after Abort.
	Create(ctx context.Context, name string) (WritableBlob, error)
	// Put writes a small blob in one atomic step. Completion markers rely on
	// this.
	Put(ctx context.Context, name string, data []byte) error
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a data blob. Runs are read front to back,
// so a blob only hands out range readers.
type Blob interface {
	io.Closer
	// ReadRange returns a reader over [off, off+length), clipped to the blob size.
	// Returns io.EOF if off is past the end of the blob.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a blob being written. Exactly one of Close or Abort ends
// the write.
type WritableBlob interface {
	io.WriteCloser
	// Abort discards everything written; the blob never becomes visible.
	Abort() error
}

// Finish ends w according to *errp: it aborts w when *errp is set and
// commits it otherwise, storing a commit error in *errp. It is meant to be
// deferred by writers with a named error result.
func Finish(w WritableBlob, errp *error) {
	if *errp != nil {
		_ = w.Abort()
		return
	}
	*errp = w.Close()
}

// DirMaker is implemented by stores with real directories.
// Object stores have implicit prefixes and do not implement it.
type DirMaker interface {
	MkdirAll(ctx context.Context, dir string) error
}

// ReadAll reads the full contents of a blob.
func ReadAll(ctx context.Context, store BlobStore, name string) ([]byte, error) {
	b, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	r, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		if errors.Is(err, io.EOF) {
			return []byte{}, nil
		}
		return nil, err
	}
	defer r.Close()

	return io.ReadAll(r)
}
