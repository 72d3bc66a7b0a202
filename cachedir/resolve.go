package cachedir

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/fieldq/blobstore"
	minioblob "github.com/hupe1980/fieldq/blobstore/minio"
	s3blob "github.com/hupe1980/fieldq/blobstore/s3"
	"github.com/hupe1980/fieldq/internal/fs"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrInvalidURI is returned for a malformed cache URI.
	ErrInvalidURI = errors.New("invalid cache uri")
	// ErrUnsupportedScheme is returned for an unknown URI scheme.
	ErrUnsupportedScheme = errors.New("unsupported cache uri scheme")
)

// Resolver maps a directory URI to a blob store and a key prefix inside it.
type Resolver func(ctx context.Context, uri string) (blobstore.BlobStore, string, error)

var memStores sync.Map // name -> *blobstore.MemoryStore

// MemoryStore returns the process-local memory store registered under name,
// creating it on first use. mem://name URIs resolve to it.
func MemoryStore(name string) *blobstore.MemoryStore {
	st, _ := memStores.LoadOrStore(name, blobstore.NewMemoryStore())
	return st.(*blobstore.MemoryStore)
}

// Resolve is the default Resolver.
func Resolve(ctx context.Context, uri string) (blobstore.BlobStore, string, error) {
	return resolveWith(ctx, uri, fs.Default)
}

func cleanPrefix(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "." {
		return ""
	}
	return p
}

func resolveWith(ctx context.Context, uri string, fsys fs.FileSystem) (blobstore.BlobStore, string, error) {
	if uri == "" {
		return nil, "", fmt.Errorf("%w: empty", ErrInvalidURI)
	}
	if !strings.Contains(uri, "://") {
		// A plain local path.
		return blobstore.NewLocalStoreFS(filepath.Clean(uri), fsys), "", nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return nil, "", fmt.Errorf("%w: %s: missing path", ErrInvalidURI, uri)
		}
		return blobstore.NewLocalStoreFS(filepath.FromSlash(u.Path), fsys), "", nil

	case "mem":
		if u.Host == "" {
			return nil, "", fmt.Errorf("%w: %s: missing store name", ErrInvalidURI, uri)
		}
		return MemoryStore(u.Host), cleanPrefix(u.Path), nil

	case "s3":
		if u.Host == "" {
			return nil, "", fmt.Errorf("%w: %s: missing bucket", ErrInvalidURI, uri)
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("load aws config: %w", err)
		}
		return s3blob.NewStore(awss3.NewFromConfig(cfg), u.Host, ""), cleanPrefix(u.Path), nil

	case "minio":
		return resolveMinio(u)

	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// resolveMinio handles minio://[key:secret@]endpoint/bucket/prefix[?secure=true].
// Without userinfo, credentials come from MINIO_ACCESS_KEY/MINIO_SECRET_KEY.
func resolveMinio(u *url.URL) (blobstore.BlobStore, string, error) {
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if u.Host == "" || parts[0] == "" {
		return nil, "", fmt.Errorf("%w: %s: want minio://endpoint/bucket/prefix", ErrInvalidURI, u.Redacted())
	}

	creds := credentials.NewEnvMinio()
	if u.User != nil {
		secret, _ := u.User.Password()
		creds = credentials.NewStaticV4(u.User.Username(), secret, "")
	}
	secure, _ := strconv.ParseBool(u.Query().Get("secure"))

	client, err := minio.New(u.Host, &minio.Options{Creds: creds, Secure: secure})
	if err != nil {
		return nil, "", fmt.Errorf("minio client: %w", err)
	}

	prefix := ""
	if len(parts) == 2 {
		prefix = cleanPrefix(parts[1])
	}
	return minioblob.NewStore(client, parts[0], ""), prefix, nil
}

// ResolveObject resolves the URI of a single blob, e.g. an FST file, into its
// store and blob name.
func ResolveObject(ctx context.Context, uri string, resolve Resolver) (blobstore.BlobStore, string, error) {
	if resolve == nil {
		resolve = Resolve
	}
	dir, base := splitObject(uri)
	if base == "" {
		return nil, "", fmt.Errorf("%w: %s: missing object name", ErrInvalidURI, uri)
	}
	store, prefix, err := resolve(ctx, dir)
	if err != nil {
		return nil, "", err
	}
	return store, path.Join(prefix, base), nil
}

func splitObject(uri string) (string, string) {
	i := strings.LastIndex(uri, "/")
	if i < 0 {
		return ".", uri
	}
	dir := uri[:i]
	if strings.HasSuffix(dir, ":/") || strings.HasSuffix(dir, ":") {
		// e.g. "mem://store/x" keeps its authority.
		return uri[:i+1], uri[i+1:]
	}
	if dir == "" {
		dir = string(os.PathSeparator)
	}
	return dir, uri[i+1:]
}
