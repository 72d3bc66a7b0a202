// This file implements the fluent builder APIs. Builders are immutable: each
// method returns a new builder with the updated configuration, and every
// Build call produces a fresh, independent iterator.

package fieldq

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/fieldq/aggregate"
	"github.com/hupe1980/fieldq/cachedir"
	"github.com/hupe1980/fieldq/fieldindex"
	"github.com/hupe1980/fieldq/fst"
	"github.com/hupe1980/fieldq/lock"
	"github.com/hupe1980/fieldq/model"
	"github.com/hupe1980/fieldq/nested"
	"github.com/hupe1980/fieldq/scanner"
)

// =============================================================================
// Shared term state
// =============================================================================

// termState holds the settings every term builder shares.
type termState struct {
	source             fieldindex.Source
	datatypes          model.DatatypeFilter
	transform          model.KeyTransform
	timeFilter         model.TimeFilter
	types              model.TypeMetadata
	fieldsToAggregate  []string
	indexOnlyFields    []string
	forceDocumentBuild bool
	logger             *Logger
	collector          TimingCollector
}

func (s termState) aggregates(field string) bool {
	return s.forceDocumentBuild ||
		slices.Contains(s.indexOnlyFields, field) ||
		slices.Contains(s.fieldsToAggregate, field)
}

func (s termState) log() *Logger {
	if s.logger == nil {
		return NoopLogger()
	}
	return s.logger
}

func (s termState) options(base scanner.Options) scanner.Options {
	base.TimeFilter = s.timeFilter
	base.DatatypeFilter = s.datatypes
	base.KeyTransform = s.transform
	base.Collector = s.collector
	base.Logger = s.log().Logger
	return base
}

// wrap applies the aggregation decision and adapts s to a nested iterator.
func (s termState) wrap(sc scanner.Scanner) *nested.Bridge {
	return nested.NewBridge(aggregate.New(sc, s.aggregates(sc.Field()), s.types))
}

// =============================================================================
// Cardinality Builder (Immutable)
// =============================================================================

// Cardinality creates a builder for the equality term field == value.
// The term is evaluated in memory and never spills.
//
// Example:
//
//	it, err := fieldq.Cardinality("COLOR", "red").
//	    Source(src).
//	    Aggregate("COLOR").
//	    Build(ctx)
func Cardinality(field, value string) CardinalityBuilder {
	return CardinalityBuilder{field: field, value: value, hasValue: true}
}

// CardinalityBuilder is an immutable fluent builder for equality terms.
// The empty string is a valid value; only the zero builder lacks one.
type CardinalityBuilder struct {
	termState
	field    string
	value    string
	hasValue bool
}

// Source sets the field-index source to scan.
func (b CardinalityBuilder) Source(src fieldindex.Source) CardinalityBuilder {
	b.source = src
	return b
}

// Datatypes restricts the eligible datatypes.
func (b CardinalityBuilder) Datatypes(f model.DatatypeFilter) CardinalityBuilder {
	b.datatypes = f
	return b
}

// KeyTransform rewrites accepted entries before they are collected.
func (b CardinalityBuilder) KeyTransform(t model.KeyTransform) CardinalityBuilder {
	b.transform = t
	return b
}

// TimeFilter restricts the eligible timestamps.
func (b CardinalityBuilder) TimeFilter(f model.TimeFilter) CardinalityBuilder {
	b.timeFilter = f
	return b
}

// TypeMetadata sets the normalization types attached to aggregated values.
func (b CardinalityBuilder) TypeMetadata(tm model.TypeMetadata) CardinalityBuilder {
	b.types = tm
	return b
}

// Aggregate marks fields whose values are materialized into documents.
func (b CardinalityBuilder) Aggregate(fields ...string) CardinalityBuilder {
	b.fieldsToAggregate = append(slices.Clone(b.fieldsToAggregate), fields...)
	return b
}

// IndexOnly marks fields that exist only in the index; they are always
// aggregated.
func (b CardinalityBuilder) IndexOnly(fields ...string) CardinalityBuilder {
	b.indexOnlyFields = append(slices.Clone(b.indexOnlyFields), fields...)
	return b
}

// ForceDocumentBuild aggregates regardless of the field lists.
func (b CardinalityBuilder) ForceDocumentBuild(force bool) CardinalityBuilder {
	b.forceDocumentBuild = force
	return b
}

// Logger sets the structured logger.
func (b CardinalityBuilder) Logger(l *Logger) CardinalityBuilder {
	b.logger = l
	return b
}

// Collector sets the timing collector.
func (b CardinalityBuilder) Collector(c TimingCollector) CardinalityBuilder {
	b.collector = c
	return b
}

// Build validates the builder and returns an initialized iterator.
func (b CardinalityBuilder) Build(ctx context.Context) (*nested.Bridge, error) {
	start := time.Now()
	it, err := b.build(ctx)
	b.log().LogBuild(ctx, "cardinality", b.field, it != nil && it.Aggregating(), time.Since(start), err)
	return it, err
}

func (b CardinalityBuilder) build(ctx context.Context) (*nested.Bridge, error) {
	req := required{builder: "cardinality"}
	req.check("field", b.field != "")
	req.check("value", b.hasValue)
	req.check("source", b.source != nil)
	if err := req.err(); err != nil {
		return nil, err
	}

	sc := scanner.NewEquality(b.field, b.value, b.options(scanner.Options{}))
	if err := sc.Init(ctx, b.source); err != nil {
		_ = sc.Close()
		return nil, setupError("cardinality", "scanner initialization", err)
	}
	return b.wrap(sc), nil
}

// =============================================================================
// Ivarator Builders (Immutable)
// =============================================================================

// ivaratorTerm is the term-specific part of an ivarator builder.
type ivaratorTerm interface {
	kind() string
	field() string
	check(r *required)
	// key identifies the term inside the query's cache directory.
	key() string
	scanner(ctx context.Context, loc *cachedir.Location, opts scanner.Options, fsts *fst.Manager) (*scanner.Ivarator, error)
}

// IvaratorBuilder is an immutable fluent builder for terms that may spill
// to a cache directory. Use Range, List or Filter to create one.
type IvaratorBuilder[T ivaratorTerm] struct {
	termState
	term       T
	config     IvaratorConfig
	provider   *cachedir.Provider
	queryID    string
	scanID     string
	lock       lock.QueryLock
	sortedUIDs bool
	fsts       *fst.Manager
}

// RangeBuilder builds bounded range terms.
type RangeBuilder = IvaratorBuilder[rangeTerm]

// ListBuilder builds value-list terms.
type ListBuilder = IvaratorBuilder[listTerm]

// FilterBuilder builds predicate-filtered range terms.
type FilterBuilder = IvaratorBuilder[filterTerm]

func newIvaratorBuilder[T ivaratorTerm](t T) IvaratorBuilder[T] {
	return IvaratorBuilder[T]{
		term:       t,
		config:     DefaultIvaratorConfig(),
		sortedUIDs: true,
	}
}

// Source sets the field-index source to scan.
func (b IvaratorBuilder[T]) Source(src fieldindex.Source) IvaratorBuilder[T] {
	b.source = src
	return b
}

// Datatypes restricts the eligible datatypes.
func (b IvaratorBuilder[T]) Datatypes(f model.DatatypeFilter) IvaratorBuilder[T] {
	b.datatypes = f
	return b
}

// KeyTransform rewrites accepted entries before they are buffered.
func (b IvaratorBuilder[T]) KeyTransform(t model.KeyTransform) IvaratorBuilder[T] {
	b.transform = t
	return b
}

// TimeFilter restricts the eligible timestamps.
func (b IvaratorBuilder[T]) TimeFilter(f model.TimeFilter) IvaratorBuilder[T] {
	b.timeFilter = f
	return b
}

// TypeMetadata sets the normalization types attached to aggregated values.
func (b IvaratorBuilder[T]) TypeMetadata(tm model.TypeMetadata) IvaratorBuilder[T] {
	b.types = tm
	return b
}

// Aggregate marks fields whose values are materialized into documents.
func (b IvaratorBuilder[T]) Aggregate(fields ...string) IvaratorBuilder[T] {
	b.fieldsToAggregate = append(slices.Clone(b.fieldsToAggregate), fields...)
	return b
}

// IndexOnly marks fields that exist only in the index; they are always
// aggregated.
func (b IvaratorBuilder[T]) IndexOnly(fields ...string) IvaratorBuilder[T] {
	b.indexOnlyFields = append(slices.Clone(b.indexOnlyFields), fields...)
	return b
}

// ForceDocumentBuild aggregates regardless of the field lists.
func (b IvaratorBuilder[T]) ForceDocumentBuild(force bool) IvaratorBuilder[T] {
	b.forceDocumentBuild = force
	return b
}

// Logger sets the structured logger.
func (b IvaratorBuilder[T]) Logger(l *Logger) IvaratorBuilder[T] {
	b.logger = l
	return b
}

// Collector sets the timing collector. It is attached before initialization.
func (b IvaratorBuilder[T]) Collector(c TimingCollector) IvaratorBuilder[T] {
	b.collector = c
	return b
}

// Config replaces all ivarator tunables at once.
func (b IvaratorBuilder[T]) Config(cfg IvaratorConfig) IvaratorBuilder[T] {
	b.config = cfg
	return b
}

// CacheDir sets the base URI of the cache directories.
func (b IvaratorBuilder[T]) CacheDir(uri string) IvaratorBuilder[T] {
	b.config.CacheDir = uri
	b.provider = nil
	return b
}

// CacheProvider sets a shared cache directory provider. It takes precedence
// over CacheDir.
func (b IvaratorBuilder[T]) CacheProvider(p *cachedir.Provider) IvaratorBuilder[T] {
	b.provider = p
	return b
}

// QueryID sets the query ID that scopes the cache directory.
// Default: a random UUID per Build.
func (b IvaratorBuilder[T]) QueryID(id string) IvaratorBuilder[T] {
	b.queryID = id
	return b
}

// ScanID names the source and shard range this build scans. Builds of the
// same term, query and ScanID with equal filter fingerprints share one cache
// directory, and later builds reuse a completed one. Without a ScanID every
// Build populates its own directory.
func (b IvaratorBuilder[T]) ScanID(id string) IvaratorBuilder[T] {
	b.scanID = id
	return b
}

// PersistThreshold sets the row count above which the term spills.
// Default: 100000.
func (b IvaratorBuilder[T]) PersistThreshold(rows int64) IvaratorBuilder[T] {
	b.config.PersistThreshold = rows
	return b
}

// ScanTimeout bounds cache population. Default: 1h.
func (b IvaratorBuilder[T]) ScanTimeout(d time.Duration) IvaratorBuilder[T] {
	b.config.ScanTimeout = d
	return b
}

// BufferSize sets the rows per spilled run. Default: 10000.
func (b IvaratorBuilder[T]) BufferSize(n int) IvaratorBuilder[T] {
	b.config.BufferSize = n
	return b
}

// MaxRangeSplit caps the parallel scan units. Default: 11.
func (b IvaratorBuilder[T]) MaxRangeSplit(n int) IvaratorBuilder[T] {
	b.config.MaxRangeSplit = n
	return b
}

// MaxOpenFiles caps the spill files open at once. Default: 100.
func (b IvaratorBuilder[T]) MaxOpenFiles(n int) IvaratorBuilder[T] {
	b.config.MaxOpenFiles = n
	return b
}

// Compression sets the run codec: "none", "lz4" or "zstd". Default: lz4.
func (b IvaratorBuilder[T]) Compression(codec string) IvaratorBuilder[T] {
	b.config.Compression = codec
	return b
}

// IOLimit caps spill write throughput in bytes per second.
func (b IvaratorBuilder[T]) IOLimit(bytesPerSec int64) IvaratorBuilder[T] {
	b.config.IOLimitBytesPerSec = bytesPerSec
	return b
}

// Lock sets the lock the scanner holds while populating its cache directory.
func (b IvaratorBuilder[T]) Lock(l lock.QueryLock) IvaratorBuilder[T] {
	b.lock = l
	return b
}

// SortedUIDs selects UID order (true, default) or field-index order.
// And and Or need UID order.
func (b IvaratorBuilder[T]) SortedUIDs(sorted bool) IvaratorBuilder[T] {
	b.sortedUIDs = sorted
	return b
}

// FSTManager sets the manager that loads FST value sets.
// Default: a process-wide manager.
func (b IvaratorBuilder[T]) FSTManager(m *fst.Manager) IvaratorBuilder[T] {
	b.fsts = m
	return b
}

var defaultFSTManager = sync.OnceValue(func() *fst.Manager {
	return fst.NewManager()
})

// Build validates the builder, populates the term and returns an iterator.
// Every failure is a *ConfigurationError.
func (b IvaratorBuilder[T]) Build(ctx context.Context) (*nested.Bridge, error) {
	start := time.Now()
	it, err := b.build(ctx)
	b.log().LogBuild(ctx, b.term.kind(), b.term.field(), it != nil && it.Aggregating(), time.Since(start), err)
	return it, err
}

func (b IvaratorBuilder[T]) build(ctx context.Context) (*nested.Bridge, error) {
	kind := b.term.kind()
	req := required{builder: kind}
	req.check("field", b.term.field() != "")
	b.term.check(&req)
	req.check("source", b.source != nil)
	req.check("cacheDir", b.provider != nil || b.config.CacheDir != "")
	if err := req.err(); err != nil {
		return nil, err
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	provider := b.provider
	if provider == nil {
		provider = cachedir.NewProvider(b.config.CacheDir)
	}
	queryID := b.queryID
	if queryID == "" {
		queryID = uuid.NewString()
	}
	opts := b.scannerOptions()
	loc, err := provider.Term(ctx, queryID, b.term.field(), b.dirKey(opts))
	if err != nil {
		return nil, setupError(kind, "cache directory", err)
	}

	fsts := b.fsts
	if fsts == nil {
		fsts = defaultFSTManager()
	}
	sc, err := b.term.scanner(ctx, loc, opts, fsts)
	if err != nil {
		return nil, setupError(kind, "scanner construction", err)
	}
	if b.collector != nil {
		sc.SetCollector(b.collector)
	}
	if err := sc.Init(ctx, b.source); err != nil {
		_ = sc.Close()
		return nil, setupError(kind, "scanner initialization", err)
	}
	if sc.Spilled() {
		b.log().LogSpill(ctx, sc.Field(), loc.URI(), sc.Rows())
	}
	return b.wrap(sc), nil
}

func (b IvaratorBuilder[T]) scannerOptions() scanner.Options {
	opts := b.options(scanner.DefaultOptions())
	opts.PersistThreshold = b.config.PersistThreshold
	opts.ScanTimeout = b.config.ScanTimeout
	opts.BufferSize = b.config.BufferSize
	opts.MaxRangeSplit = b.config.MaxRangeSplit
	opts.MaxOpenFiles = b.config.MaxOpenFiles
	opts.Codec = b.config.codec()
	opts.IOLimitBytesPerSec = b.config.IOLimitBytesPerSec
	opts.SortedUIDs = b.sortedUIDs
	opts.ScanID = b.scanID
	opts.Lock = b.lock
	return opts
}

// dirKey names the cache directory of the term. Builds that cannot share a
// result get a directory of their own.
func (b IvaratorBuilder[T]) dirKey(opts scanner.Options) string {
	if scan, ok := opts.ScanIdentity(); ok {
		return b.term.key() + "\x00" + scan
	}
	return b.term.key() + "\x00build:" + uuid.NewString()
}

// =============================================================================
// Range / List / Filter terms
// =============================================================================

// Range creates a builder for the bounded range r.
//
// Example:
//
//	it, err := fieldq.Range(model.NewLiteralRange("MSG_SIZE", "05", true, "10", false)).
//	    Source(src).
//	    CacheDir("s3://bucket/ivarators").
//	    Build(ctx)
func Range(r model.LiteralRange) RangeBuilder {
	return newIvaratorBuilder(rangeTerm{r: r})
}

type rangeTerm struct {
	r model.LiteralRange
}

func (t rangeTerm) kind() string  { return "range" }
func (t rangeTerm) field() string { return t.r.Field }
func (t rangeTerm) key() string   { return t.r.String() }

func (t rangeTerm) check(r *required) {
	r.check("range", !t.r.IsZero())
}

func (t rangeTerm) scanner(_ context.Context, loc *cachedir.Location, opts scanner.Options, _ *fst.Manager) (*scanner.Ivarator, error) {
	return scanner.NewRange(loc, t.r, opts), nil
}

// ValueSource is the value set of a list term: either explicit values or an
// FST stored at a URI.
type ValueSource struct {
	values  []string
	fstURI  string
	codec   string
	negated bool
}

// Values returns an explicit value set. Order and duplicates do not matter.
func Values(values ...string) ValueSource {
	return ValueSource{values: slices.Clone(values)}
}

// FST returns a value set stored as an FST at uri, compressed with codec
// ("", "none", "lz4" or "zstd").
func FST(uri, codec string) ValueSource {
	return ValueSource{fstURI: uri, codec: codec}
}

// Negated returns the complement: values not in the set.
func (v ValueSource) Negated() ValueSource {
	v.negated = true
	return v
}

// IsFST reports whether the set is an FST.
func (v ValueSource) IsFST() bool { return v.fstURI != "" }

func (v ValueSource) empty() bool { return len(v.values) == 0 && v.fstURI == "" }

// List creates a builder for the list term field in values.
//
// Example:
//
//	it, err := fieldq.List("FIRST_NAME", fieldq.Values("bob", "eve")).
//	    Source(src).
//	    CacheDir("/tmp/ivarators").
//	    Build(ctx)
func List(field string, values ValueSource) ListBuilder {
	return newIvaratorBuilder(listTerm{f: field, src: values})
}

type listTerm struct {
	f   string
	src ValueSource
}

func (t listTerm) kind() string  { return "list" }
func (t listTerm) field() string { return t.f }

func (t listTerm) check(r *required) {
	r.check("values", !t.src.empty())
}

func (t listTerm) key() string {
	prefix := ""
	if t.src.negated {
		prefix = "!"
	}
	if t.src.IsFST() {
		return prefix + "fst:" + t.src.codec + ":" + t.src.fstURI
	}
	set := slices.Clone(t.src.values)
	slices.Sort(set)
	out := prefix + "values"
	for _, v := range slices.Compact(set) {
		out += "\x00" + v
	}
	return out
}

func (t listTerm) scanner(ctx context.Context, loc *cachedir.Location, opts scanner.Options, fsts *fst.Manager) (*scanner.Ivarator, error) {
	if !t.src.IsFST() {
		return scanner.NewList(loc, t.f, t.src.values, t.src.negated, opts), nil
	}
	set, err := fsts.Load(ctx, t.src.fstURI, t.src.codec)
	if err != nil {
		return nil, err
	}
	return scanner.NewFSTList(loc, t.f, set, t.src.fstURI, t.src.negated, opts)
}

// Filter creates a builder for the values of r accepted by pred. name
// identifies the predicate: builds with equal ranges, names and ScanIDs
// share cache directories.
func Filter(r model.LiteralRange, name string, pred scanner.Predicate) FilterBuilder {
	return newIvaratorBuilder(filterTerm{r: r, name: name, pred: pred})
}

type filterTerm struct {
	r    model.LiteralRange
	name string
	pred scanner.Predicate
}

func (t filterTerm) kind() string  { return "filter" }
func (t filterTerm) field() string { return t.r.Field }
func (t filterTerm) key() string   { return t.r.String() + ":" + t.name }

func (t filterTerm) check(r *required) {
	r.check("filter", t.pred != nil)
}

func (t filterTerm) scanner(_ context.Context, loc *cachedir.Location, opts scanner.Options, _ *fst.Manager) (*scanner.Ivarator, error) {
	return scanner.NewFilter(loc, t.r, t.name, t.pred, opts), nil
}

// =============================================================================
// And / Or Builders (Immutable)
// =============================================================================

// And creates an intersection builder.
func And() AndBuilder { return AndBuilder{} }

// AndBuilder is an immutable fluent builder for intersections.
type AndBuilder struct {
	includes []nested.Iterator
	excludes []nested.Iterator
}

// Include adds iterators whose UIDs must all match.
func (b AndBuilder) Include(its ...nested.Iterator) AndBuilder {
	b.includes = append(slices.Clone(b.includes), its...)
	return b
}

// Exclude adds iterators whose UIDs are removed from the result.
func (b AndBuilder) Exclude(its ...nested.Iterator) AndBuilder {
	b.excludes = append(slices.Clone(b.excludes), its...)
	return b
}

// Build returns the intersection. It fails with ErrNoIncludes when no
// include was added.
func (b AndBuilder) Build() (*nested.And, error) {
	it, err := nested.NewAnd(slices.Clone(b.includes), slices.Clone(b.excludes))
	if err != nil {
		return nil, &ConfigurationError{Builder: "and", Missing: []string{"includes"}, cause: err}
	}
	return it, nil
}

// Or creates a union builder.
func Or() OrBuilder { return OrBuilder{} }

// OrBuilder is an immutable fluent builder for unions.
type OrBuilder struct {
	includes []nested.Iterator
}

// Include adds iterators to the union.
func (b OrBuilder) Include(its ...nested.Iterator) OrBuilder {
	b.includes = append(slices.Clone(b.includes), its...)
	return b
}

// Build returns the union. It fails with ErrNoIncludes when no include was
// added.
func (b OrBuilder) Build() (*nested.Or, error) {
	it, err := nested.NewOr(slices.Clone(b.includes))
	if err != nil {
		return nil, &ConfigurationError{Builder: "or", Missing: []string{"includes"}, cause: err}
	}
	return it, nil
}
