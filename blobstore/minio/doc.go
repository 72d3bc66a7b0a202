// Package minio provides a BlobStore implementation using the MinIO client.
//
// Ivarator cache directories resolve to a minio://endpoint/bucket/prefix URI.
// The store works with any S3-compatible storage (Ceph, Garage, SeaweedFS)
// and does not require the AWS SDK.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "ivarators/")
package minio
