// Package blobstore provides the storage abstraction behind ivarator caches
// and FST files.
//
// BlobStore is the interface for reading and writing data blobs. Spill runs
// are written once and read sequentially, so every backend only needs
// streaming writes and ranged reads. Implementations must be safe for
// concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: Local filesystem (atomic rename on close)
//   - MemoryStore: In-memory, for tests
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible systems
//
// # Custom Implementations
//
// Implement the BlobStore interface to support custom storage backends:
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Blobs support ranged reads so that remote backends can stream runs:
//
//	type Blob interface {
//	    ReadRange(ctx, off, len) (io.ReadCloser, error)
//	    Size() int64
//	    Close() error
//	}
//
// A WritableBlob becomes visible on Close. Abort discards it, so a failed
// run never shows up in List. Object stores build their writers with
// NewPipeWriter, which streams into an upload and fails the upload on Abort.
package blobstore
