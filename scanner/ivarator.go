package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fieldq/cachedir"
	"github.com/hupe1980/fieldq/fieldindex"
	"github.com/hupe1980/fieldq/internal/resource"
	"github.com/hupe1980/fieldq/internal/spill"
	"github.com/hupe1980/fieldq/lock"
	"github.com/hupe1980/fieldq/model"
)

// ctxCheckInterval is how many hits Next yields between context checks.
const ctxCheckInterval = 256

// term describes what an ivarator scans.
type term struct {
	kind string
	// units are the ranges to scan. A single unit may be split further.
	units []model.LiteralRange
	// accept narrows scanned values; nil accepts all.
	accept func(value string) (bool, error)
	// key identifies the term inside its cache directory.
	key string
}

// Ivarator is a field-index scanner that spills to a cache directory when
// its result outgrows memory.
type Ivarator struct {
	field string
	term  term
	loc   *cachedir.Location
	opts  Options
	ctrl  *resource.Controller

	inited  bool
	closed  bool
	spilled bool
	rows    int64

	it      spill.Iterator
	pending *spill.Record
	cur     Hit
	valid   bool
	calls   int
	err     error
}

var _ Scanner = (*Ivarator)(nil)

func newIvarator(field string, t term, loc *cachedir.Location, opts Options) *Ivarator {
	opts = opts.normalize()
	return &Ivarator{
		field: field,
		term:  t,
		loc:   loc,
		opts:  opts,
		ctrl: resource.NewController(resource.Config{
			MaxOpenFiles:       int64(opts.MaxOpenFiles),
			MaxWorkers:         int64(opts.MaxRangeSplit),
			IOLimitBytesPerSec: opts.IOLimitBytesPerSec,
		}),
	}
}

// Field implements Scanner.
func (iv *Ivarator) Field() string { return iv.field }

// Kind returns the term shape: "range", "list" or "filter".
func (iv *Ivarator) Kind() string { return iv.term.kind }

// Location returns the cache directory.
func (iv *Ivarator) Location() *cachedir.Location { return iv.loc }

// SetCollector attaches a timing collector. It must be called before Init.
func (iv *Ivarator) SetCollector(c TimingCollector) {
	if c != nil {
		iv.opts.Collector = c
	}
}

// Spilled reports whether the result lives in the cache directory.
func (iv *Ivarator) Spilled() bool { return iv.spilled }

// Rows returns the number of accepted rows seen during population.
func (iv *Ivarator) Rows() int64 { return iv.rows }

// PeakOpenFiles returns the most spill files held open at once.
func (iv *Ivarator) PeakOpenFiles() int64 { return iv.ctrl.PeakOpenFiles() }

func (iv *Ivarator) order() spill.Order {
	if iv.opts.SortedUIDs {
		return spill.ByUID
	}
	return spill.ByValue
}

func (iv *Ivarator) spillOptions() spill.Options {
	return spill.Options{Codec: iv.opts.Codec, Order: iv.order(), Controller: iv.ctrl}
}

// Init implements Scanner. It holds the query lock while populating.
func (iv *Ivarator) Init(ctx context.Context, src fieldindex.Source) (err error) {
	if iv.inited {
		return ErrAlreadyInitialized
	}
	iv.inited = true

	if err := iv.opts.Lock.Lock(ctx); err != nil {
		return fmt.Errorf("lock %s: %w", iv.loc.URI(), err)
	}
	defer func() {
		if uerr := iv.opts.Lock.Unlock(context.WithoutCancel(ctx)); uerr != nil && err == nil {
			err = fmt.Errorf("unlock %s: %w", iv.loc.URI(), uerr)
		}
	}()

	scan, shared := iv.opts.ScanIdentity()
	if shared {
		m, err := readManifest(ctx, iv.loc)
		if err != nil {
			return err
		}
		if m.matches(iv.term.key, scan) {
			return iv.reuse(ctx, m)
		}
	}
	// Without an exclusive lock another population may be writing here.
	if lock.Exclusive(iv.opts.Lock) {
		if err := clearDir(ctx, iv.loc); err != nil {
			return fmt.Errorf("clear %s: %w", iv.loc.URI(), err)
		}
	}

	start := time.Now()
	err = iv.populate(ctx, src, scan)
	iv.opts.Collector.RecordPopulate(iv.field, iv.rows, iv.spilled, time.Since(start), err)
	return err
}

func (iv *Ivarator) reuse(ctx context.Context, m *manifest) error {
	merged, err := spill.OpenMerged(ctx, iv.loc.Store(), iv.paths(m.Runs), iv.spillOptions())
	if err != nil {
		return err
	}
	iv.it = merged
	iv.spilled = true
	iv.rows = m.Rows
	iv.opts.Collector.RecordCacheReuse(iv.field)
	iv.opts.Logger.Debug("ivarator cache reused", "field", iv.field, "dir", iv.loc.URI(), "runs", len(m.Runs))
	return nil
}

func (iv *Ivarator) paths(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = iv.loc.Path(n)
	}
	return out
}

// population is the shared state of one Init. Its runs live under a
// private attempt prefix, so concurrent populations of one directory never
// touch each other's files.
type population struct {
	iv      *Ivarator
	attempt string
	scan    string
	rows    atomic.Int64
	spill   atomic.Bool
	seq     atomic.Int64
	mu      sync.Mutex
	mem     []spill.Record
	runs    []string
	written atomic.Int64
}

func (p *population) runName() string {
	return fmt.Sprintf("%s/run-%06d", p.attempt, p.seq.Add(1))
}

// flush writes buf as one run.
func (p *population) flush(ctx context.Context, buf []spill.Record) error {
	if len(buf) == 0 {
		return nil
	}
	iv := p.iv
	start := time.Now()
	recs := spill.SortUnique(buf, iv.order())
	name := p.runName()
	if err := spill.WriteRun(ctx, iv.loc.Store(), iv.loc.Path(name), recs, iv.spillOptions()); err != nil {
		return fmt.Errorf("write run %s: %w", name, err)
	}
	iv.opts.Collector.RecordSpill(iv.field, len(recs), time.Since(start))
	p.written.Add(int64(len(recs)))

	p.mu.Lock()
	p.runs = append(p.runs, name)
	p.mu.Unlock()
	return nil
}

func (iv *Ivarator) units(ctx context.Context, src fieldindex.Source) ([]model.LiteralRange, error) {
	units := iv.term.units
	if len(units) != 1 || iv.opts.MaxRangeSplit < 2 {
		return units, nil
	}
	splitter, ok := src.(fieldindex.Splitter)
	if !ok {
		return units, nil
	}
	points, err := splitter.SplitPoints(ctx, units[0], iv.opts.MaxRangeSplit)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", units[0], err)
	}
	return fieldindex.SplitRange(units[0], points), nil
}

func (iv *Ivarator) populate(ctx context.Context, src fieldindex.Source, scan string) error {
	popCtx := ctx
	if iv.opts.ScanTimeout > 0 {
		var cancel context.CancelFunc
		popCtx, cancel = context.WithTimeout(ctx, iv.opts.ScanTimeout)
		defer cancel()
	}

	runs, err := iv.fill(popCtx, src, scan)
	if err != nil {
		if errors.Is(popCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s after %s", ErrScanTimeout, iv.field, iv.opts.ScanTimeout)
		}
		return err
	}
	if !iv.spilled {
		return nil
	}
	// Run streams outlive the population deadline.
	merged, err := spill.OpenMerged(ctx, iv.loc.Store(), runs, iv.spillOptions())
	if err != nil {
		return err
	}
	iv.it = merged
	return nil
}

// fill scans every unit. In spill mode it returns the final run paths.
func (iv *Ivarator) fill(ctx context.Context, src fieldindex.Source, scan string) ([]string, error) {
	units, err := iv.units(ctx, src)
	if err != nil {
		return nil, err
	}

	p := &population{iv: iv, attempt: "attempt-" + uuid.NewString(), scan: scan}
	if iv.opts.PersistThreshold == 0 {
		p.spill.Store(true)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(iv.opts.MaxRangeSplit)
	for _, u := range units {
		g.Go(func() error {
			if err := iv.ctrl.AcquireWorker(gctx); err != nil {
				return err
			}
			defer iv.ctrl.ReleaseWorker()
			return iv.scanUnit(gctx, src, u, p)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	iv.rows = p.rows.Load()

	if !p.spill.Load() {
		iv.it = spill.NewSliceIterator(spill.SortUnique(p.mem, iv.order()))
		iv.opts.Logger.Debug("ivarator populated in memory", "field", iv.field, "kind", iv.term.kind, "rows", iv.rows)
		return nil, nil
	}
	return iv.finishSpill(ctx, p)
}

func (iv *Ivarator) finishSpill(ctx context.Context, p *population) ([]string, error) {
	iv.spilled = true
	// Remainders of units that finished before spill mode began.
	if err := p.flush(ctx, p.mem); err != nil {
		return nil, err
	}
	p.mem = nil

	runs := slices.Clone(p.runs)
	slices.Sort(runs)

	start := time.Now()
	paths, stats, err := spill.Compact(ctx, iv.loc.Store(), iv.paths(runs), int(iv.ctrl.MaxOpenFiles()), func() string {
		return iv.loc.Path(p.runName())
	}, iv.spillOptions())
	if err != nil {
		return nil, fmt.Errorf("compact %s: %w", iv.loc.URI(), err)
	}
	if stats.Passes > 0 {
		iv.opts.Collector.RecordCompaction(iv.field, stats.Passes, stats.Merged, time.Since(start))
	}

	final := make([]string, len(paths))
	prefix := iv.loc.Path("")
	for i, path := range paths {
		final[i] = path[len(prefix):]
	}
	if err := writeManifest(ctx, iv.loc, &manifest{
		Field: iv.field,
		Term:  iv.term.key,
		Scan:  p.scan,
		Order: orderName(iv.opts.SortedUIDs),
		Codec: iv.opts.Codec.String(),
		Rows:  iv.rows,
		Runs:  final,
	}); err != nil {
		return nil, fmt.Errorf("write marker %s: %w", iv.loc.URI(), err)
	}

	iv.opts.Logger.Info("ivarator spilled",
		"field", iv.field,
		"kind", iv.term.kind,
		"dir", iv.loc.URI(),
		"rows", iv.rows,
		"written", p.written.Load(),
		"runs", len(final),
		"compactionPasses", stats.Passes,
	)
	return paths, nil
}

func (iv *Ivarator) scanUnit(ctx context.Context, src fieldindex.Source, r model.LiteralRange, p *population) error {
	cur, err := src.Scan(ctx, r)
	if err != nil {
		return fmt.Errorf("scan %s: %w", r, err)
	}
	defer cur.Close()

	var buf []spill.Record
	for cur.Next() {
		e := cur.Entry()
		if !iv.opts.TimeFilter.Accept(e.Timestamp) || !iv.opts.DatatypeFilter.Accept(e.Datatype) {
			continue
		}
		if iv.term.accept != nil {
			ok, err := iv.term.accept(e.Value)
			if err != nil {
				return fmt.Errorf("evaluate %s=%q: %w", iv.field, e.Value, err)
			}
			if !ok {
				continue
			}
		}
		e = iv.opts.KeyTransform.Transform(e)
		buf = append(buf, spill.Record{UID: e.UID, Value: e.Value, Datatype: e.Datatype, Timestamp: e.Timestamp})

		if p.rows.Add(1) > iv.opts.PersistThreshold {
			p.spill.Store(true)
		}
		if p.spill.Load() && len(buf) >= iv.opts.BufferSize {
			if err := p.flush(ctx, buf); err != nil {
				return err
			}
			buf = nil
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", r, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.spill.Load() {
		return p.flush(ctx, buf)
	}
	p.mu.Lock()
	p.mem = append(p.mem, buf...)
	p.mu.Unlock()
	return nil
}

func (iv *Ivarator) ready() bool {
	if iv.closed || iv.err != nil {
		return false
	}
	if iv.it == nil {
		iv.err = ErrNotInitialized
		return false
	}
	return true
}

func (iv *Ivarator) entry(r spill.Record) model.Entry {
	return model.Entry{Field: iv.field, Value: r.Value, Datatype: r.Datatype, UID: r.UID, Timestamp: r.Timestamp}
}

// pull returns the next record, honouring a pushed-back one.
func (iv *Ivarator) pull() (spill.Record, bool) {
	if iv.pending != nil {
		r := *iv.pending
		iv.pending = nil
		return r, true
	}
	if iv.it.Next() {
		return iv.it.Record(), true
	}
	if err := iv.it.Err(); err != nil {
		iv.err = err
	}
	return spill.Record{}, false
}

// Next implements Scanner.
func (iv *Ivarator) Next(ctx context.Context) bool {
	if !iv.ready() {
		return false
	}
	iv.calls++
	if iv.calls%ctxCheckInterval == 0 {
		if err := ctx.Err(); err != nil {
			iv.err = err
			return false
		}
	}

	first, ok := iv.pull()
	if !ok {
		iv.valid = false
		return false
	}
	hit := Hit{UID: first.UID, Entries: []model.Entry{iv.entry(first)}}
	if iv.opts.SortedUIDs {
		for {
			r, ok := iv.pull()
			if !ok {
				if iv.err != nil {
					return false
				}
				break
			}
			if r.UID != hit.UID {
				iv.pending = &r
				break
			}
			hit.Entries = append(hit.Entries, iv.entry(r))
		}
	}
	iv.cur = hit
	iv.valid = true
	return true
}

// Seek implements Scanner. In field-index order UIDs are not ascending, so
// Seek scans forward to the next hit with UID >= target.
func (iv *Ivarator) Seek(ctx context.Context, target model.RowID) bool {
	if !iv.ready() {
		return false
	}
	if err := ctx.Err(); err != nil {
		iv.err = err
		return false
	}
	if iv.valid && iv.cur.UID >= target {
		return true
	}
	if iv.opts.SortedUIDs && iv.pending == nil {
		if s, ok := iv.it.(*spill.SliceIterator); ok {
			s.Advance(func(r spill.Record) bool { return r.UID < target })
		}
	}
	for iv.Next(ctx) {
		if iv.cur.UID >= target {
			return true
		}
	}
	return false
}

// Hit implements Scanner.
func (iv *Ivarator) Hit() Hit { return iv.cur }

// Err implements Scanner.
func (iv *Ivarator) Err() error { return iv.err }

// Close implements Scanner. The cache directory is left in place.
func (iv *Ivarator) Close() error {
	if iv.closed {
		return nil
	}
	iv.closed = true
	iv.valid = false
	if iv.it != nil {
		return iv.it.Close()
	}
	return nil
}
