// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// Ivarator cache directories resolve to an s3://bucket/prefix URI; spill runs
// and completion markers are written as objects below that prefix.
//
// # Usage
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "ivarators/")
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Streaming multipart uploads for large runs; aborted runs leave no parts
//   - CRC32C checksums on small puts
//   - Automatic pagination for listing
package s3
