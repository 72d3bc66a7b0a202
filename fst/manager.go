package fst

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hupe1980/fieldq/blobstore"
	"github.com/hupe1980/fieldq/cachedir"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of FSTs a Manager keeps loaded.
const DefaultCacheSize = 16

// Manager loads FSTs by URI and caches them.
// It is safe for concurrent use.
type Manager struct {
	cache   *lru.Cache[string, *Set]
	group   singleflight.Group
	resolve cachedir.Resolver
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	size    int
	resolve cachedir.Resolver
	logger  *slog.Logger
}

// WithCacheSize sets the number of cached FSTs.
func WithCacheSize(n int) Option {
	return func(o *managerOptions) { o.size = n }
}

// WithResolver sets the URI resolver.
func WithResolver(r cachedir.Resolver) Option {
	return func(o *managerOptions) { o.resolve = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// NewManager creates a Manager.
func NewManager(optFns ...Option) *Manager {
	o := managerOptions{size: DefaultCacheSize, resolve: cachedir.Resolve, logger: slog.Default()}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.size <= 0 {
		o.size = DefaultCacheSize
	}
	// Evicted sets stay valid for scanners still holding them.
	cache, _ := lru.New[string, *Set](o.size)
	return &Manager{cache: cache, resolve: o.resolve, logger: o.logger}
}

// Load returns the FST stored at uri, compressed with codec.
func (m *Manager) Load(ctx context.Context, uri, codec string) (*Set, error) {
	key := codec + "|" + uri
	if s, ok := m.cache.Get(key); ok {
		return s, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		if s, ok := m.cache.Get(key); ok {
			return s, nil
		}
		store, name, err := cachedir.ResolveObject(ctx, uri, m.resolve)
		if err != nil {
			return nil, err
		}
		data, err := blobstore.ReadAll(ctx, store, name)
		if err != nil {
			return nil, fmt.Errorf("fst: read %s: %w", uri, err)
		}
		s, err := Decode(data, codec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", uri, err)
		}
		m.cache.Add(key, s)
		m.logger.Debug("fst loaded", "uri", uri, "codec", codec, "values", s.Len(), "bytes", len(data))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Set), nil
}

// Len returns the number of cached FSTs.
func (m *Manager) Len() int { return m.cache.Len() }

// Purge drops every cached FST.
func (m *Manager) Purge() { m.cache.Purge() }

// Write encodes values as an FST and stores it at uri.
func Write(ctx context.Context, uri, codec string, values []string, resolve cachedir.Resolver) error {
	data, err := Encode(values, codec)
	if err != nil {
		return err
	}
	store, name, err := cachedir.ResolveObject(ctx, uri, resolve)
	if err != nil {
		return err
	}
	return store.Put(ctx, name, data)
}
