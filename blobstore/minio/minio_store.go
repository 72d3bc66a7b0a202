package minio

import (
	"bytes"
	"context"
	"io"
	"slices"

	"github.com/hupe1980/fieldq/blobstore"
	"github.com/minio/minio-go/v7"
)

// runPartSize bounds the memory a streamed run buffers per part.
const runPartSize = 16 << 20

// Store implements blobstore.BlobStore for MinIO and S3-compatible storage.
type Store struct {
	api  objectAPI
	keys blobstore.Keyspace
}

// NewStore creates a new MinIO blob store.
// rootPrefix is prepended to all keys (e.g. "ivarators/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return newStore(&clientAPI{client: client, bucket: bucket}, rootPrefix)
}

func newStore(api objectAPI, rootPrefix string) *Store {
	return &Store{api: api, keys: blobstore.NewKeyspace(rootPrefix)}
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Open opens an existing blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.keys.Key(name)
	size, err := s.api.stat(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, err
	}
	return &runObject{api: s.api, key: key, size: size}, nil
}

// Put writes a completion marker or FST in one request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	return s.api.put(ctx, s.keys.Key(name), bytes.NewReader(data), int64(len(data)))
}

// Create streams a run of unknown length. The object becomes visible on
// Close; Abort fails the stream and the client discards the upload.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := s.keys.Key(name)
	return blobstore.NewPipeWriter(ctx, func(ctx context.Context, r io.Reader) error {
		return s.api.put(ctx, key, r, -1)
	}), nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.api.remove(ctx, s.keys.Key(name))
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns all blob names with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.api.list(ctx, s.keys.Prefix(prefix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if name, ok := s.keys.Name(key); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

type runObject struct {
	api  objectAPI
	key  string
	size int64
}

func (o *runObject) Size() int64  { return o.size }
func (o *runObject) Close() error { return nil }

func (o *runObject) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	start, end, err := blobstore.Clip(off, length, o.size)
	if err != nil {
		return nil, err
	}
	return o.api.get(ctx, o.key, start, end)
}

// objectAPI is the part of the MinIO client the store uses, bound to one
// bucket.
type objectAPI interface {
	stat(ctx context.Context, key string) (int64, error)
	get(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	put(ctx context.Context, key string, r io.Reader, size int64) error
	remove(ctx context.Context, key string) error
	list(ctx context.Context, prefix string) ([]string, error)
}

type clientAPI struct {
	client *minio.Client
	bucket string
}

func (c *clientAPI) stat(ctx context.Context, key string) (int64, error) {
	info, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (c *clientAPI) get(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, err
	}
	return c.client.GetObject(ctx, c.bucket, key, opts)
}

func (c *clientAPI) put(ctx context.Context, key string, r io.Reader, size int64) error {
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	if size < 0 {
		opts.PartSize = runPartSize
	}
	_, err := c.client.PutObject(ctx, c.bucket, key, r, size, opts)
	return err
}

func (c *clientAPI) remove(ctx context.Context, key string) error {
	return c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{})
}

func (c *clientAPI) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
