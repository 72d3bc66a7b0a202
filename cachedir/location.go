package cachedir

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/hupe1980/fieldq/blobstore"
	"github.com/hupe1980/fieldq/internal/fs"
	"github.com/hupe1980/fieldq/internal/hash"
)

// Provider hands out per-term cache locations below one base URI.
// The base is resolved on first use and shared by all terms of the provider.
type Provider struct {
	uri     string
	resolve Resolver

	mu     sync.Mutex
	store  blobstore.BlobStore
	prefix string
}

// Option configures a Provider.
type Option func(*Provider)

// WithResolver replaces the URI resolver.
func WithResolver(r Resolver) Option {
	return func(p *Provider) { p.resolve = r }
}

// WithFileSystem sets the file system used for local (file://) bases.
// Tests use it to inject faults.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(p *Provider) {
		p.resolve = func(ctx context.Context, uri string) (blobstore.BlobStore, string, error) {
			return resolveWith(ctx, uri, fsys)
		}
	}
}

// WithStore binds the provider to an already open store; the URI is only
// used for naming.
func WithStore(store blobstore.BlobStore, prefix string) Option {
	return func(p *Provider) {
		p.store = store
		p.prefix = cleanPrefix(prefix)
	}
}

// NewProvider creates a provider for baseURI. Nothing is resolved or created
// until the first call to Term.
func NewProvider(baseURI string, optFns ...Option) *Provider {
	p := &Provider{uri: strings.TrimSuffix(baseURI, "/"), resolve: Resolve}
	for _, fn := range optFns {
		fn(p)
	}
	return p
}

// URI returns the base URI.
func (p *Provider) URI() string { return p.uri }

func (p *Provider) open(ctx context.Context) (blobstore.BlobStore, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store != nil {
		return p.store, p.prefix, nil
	}
	store, prefix, err := p.resolve(ctx, p.uri)
	if err != nil {
		return nil, "", err
	}
	p.store, p.prefix = store, prefix
	return store, prefix, nil
}

// TermDir returns the directory name of a term: <field>-<crc32c(term)>.
func TermDir(field, term string) string {
	return fmt.Sprintf("%s-%08x", sanitize(field), hash.CRC32CString(field+"\x00"+term))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '\x00':
			return '_'
		}
		return r
	}, s)
}

// Term returns the location for one term of a query, creating the directory
// where the store has real directories.
func (p *Provider) Term(ctx context.Context, queryID, field, term string) (*Location, error) {
	if queryID == "" || field == "" {
		return nil, fmt.Errorf("%w: query id and field are required", ErrInvalidURI)
	}
	store, prefix, err := p.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir %s: %w", p.uri, err)
	}

	rel := path.Join(sanitize(queryID), TermDir(field, term))
	dir := rel
	if prefix != "" {
		dir = path.Join(prefix, rel)
	}
	if dm, ok := store.(blobstore.DirMaker); ok {
		if err := dm.MkdirAll(ctx, dir); err != nil {
			return nil, fmt.Errorf("create cache dir %s/%s: %w", p.uri, rel, err)
		}
	}
	return &Location{store: store, uri: p.uri + "/" + rel, dir: dir}, nil
}

// Location is one ivarator cache directory.
type Location struct {
	store blobstore.BlobStore
	uri   string
	dir   string
}

// NewLocation wraps an existing store directory.
func NewLocation(store blobstore.BlobStore, uri, dir string) *Location {
	return &Location{store: store, uri: uri, dir: cleanPrefix(dir)}
}

// Store returns the backing blob store.
func (l *Location) Store() blobstore.BlobStore { return l.store }

// URI returns the full URI of the directory; it also serves as a lock key.
func (l *Location) URI() string { return l.uri }

// Dir returns the directory as a key prefix inside the store.
func (l *Location) Dir() string { return l.dir }

// Path returns the store key of name inside the directory.
func (l *Location) Path(name string) string {
	if l.dir == "" {
		return name
	}
	return l.dir + "/" + name
}

// List returns the names (relative to the directory) of all blobs in it.
func (l *Location) List(ctx context.Context) ([]string, error) {
	prefix := ""
	if l.dir != "" {
		prefix = l.dir + "/"
	}
	keys, err := l.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, prefix))
	}
	return names, nil
}

type dirRemover interface {
	RemoveAll(ctx context.Context, dir string) error
}

// Remove deletes every blob in the directory and the directory itself.
func (l *Location) Remove(ctx context.Context) error {
	names, err := l.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, n := range names {
		errs = append(errs, l.store.Delete(ctx, l.Path(n)))
	}
	if dr, ok := l.store.(dirRemover); ok && l.dir != "" {
		errs = append(errs, dr.RemoveAll(ctx, l.dir))
	}
	return errors.Join(errs...)
}
