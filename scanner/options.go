package scanner

import (
	"log/slog"
	"strings"
	"time"

	"github.com/hupe1980/fieldq/internal/compress"
	"github.com/hupe1980/fieldq/lock"
	"github.com/hupe1980/fieldq/model"
)

// TimingCollector receives population timings from ivarators.
// Implementations must be safe for concurrent use.
type TimingCollector interface {
	// RecordPopulate is called once per Init with the accepted row count.
	RecordPopulate(field string, rows int64, spilled bool, duration time.Duration, err error)
	// RecordSpill is called after each run is written.
	RecordSpill(field string, records int, duration time.Duration)
	// RecordCompaction is called after runs were compacted.
	RecordCompaction(field string, passes, merged int, duration time.Duration)
	// RecordCacheReuse is called when a completed cache directory is reused.
	RecordCacheReuse(field string)
}

type noopCollector struct{}

func (noopCollector) RecordPopulate(string, int64, bool, time.Duration, error) {}
func (noopCollector) RecordSpill(string, int, time.Duration)                   {}
func (noopCollector) RecordCompaction(string, int, int, time.Duration)         {}
func (noopCollector) RecordCacheReuse(string)                                  {}

// MinOpenFiles is the smallest usable MaxOpenFiles: compaction holds two
// inputs and one output open.
const MinOpenFiles = 3

// Options configures a scanner.
type Options struct {
	TimeFilter     model.TimeFilter
	DatatypeFilter model.DatatypeFilter
	KeyTransform   model.KeyTransform

	// PersistThreshold is the accepted row count above which the ivarator
	// spills to its cache directory. 0 spills from the first row.
	PersistThreshold int64
	// ScanTimeout bounds cache population. 0 disables the bound.
	ScanTimeout time.Duration
	// BufferSize is the number of rows a worker buffers before writing a run
	// in spill mode.
	BufferSize int
	// MaxRangeSplit caps the parallel scan units of one term.
	MaxRangeSplit int
	// MaxOpenFiles caps the spill files open at once. Raised to MinOpenFiles.
	MaxOpenFiles int
	// SortedUIDs orders results by UID; otherwise field-index order is kept.
	SortedUIDs bool
	// ScanID names the source and shard range being scanned. A completed
	// cache directory is reused only by scanners with the same non-empty
	// ScanID, term, order and filter fingerprints.
	ScanID string

	Lock               lock.QueryLock
	Codec              compress.Type
	IOLimitBytesPerSec int64
	Collector          TimingCollector
	Logger             *slog.Logger
}

// DefaultOptions returns the default scanner options.
func DefaultOptions() Options {
	return Options{
		PersistThreshold: 100_000,
		ScanTimeout:      time.Hour,
		BufferSize:       10_000,
		MaxRangeSplit:    11,
		MaxOpenFiles:     100,
		SortedUIDs:       true,
		Codec:            compress.LZ4,
	}
}

// ScanIdentity identifies what a scanner with these options reads: the scan
// ID, the result order and the fingerprints of the filters and transform.
// It reports false when the result cannot be shared, either because ScanID
// is empty or because a constraint has no fingerprint.
func (o Options) ScanIdentity() (string, bool) {
	o = o.normalize()
	if o.ScanID == "" {
		return "", false
	}
	parts := []string{"scan:" + o.ScanID, "order:" + orderName(o.SortedUIDs)}
	for _, v := range []any{o.TimeFilter, o.DatatypeFilter, o.KeyTransform} {
		fp, ok := model.Fingerprint(v)
		if !ok {
			return "", false
		}
		parts = append(parts, fp)
	}
	return strings.Join(parts, "\x00"), true
}

func (o Options) normalize() Options {
	if o.TimeFilter == nil {
		o.TimeFilter = model.AllTime
	}
	if o.DatatypeFilter == nil {
		o.DatatypeFilter = model.AllDatatypes
	}
	if o.KeyTransform == nil {
		o.KeyTransform = model.IdentityTransform
	}
	if o.PersistThreshold < 0 {
		o.PersistThreshold = 0
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 1
	}
	if o.MaxRangeSplit <= 0 {
		o.MaxRangeSplit = 1
	}
	o.MaxOpenFiles = max(o.MaxOpenFiles, MinOpenFiles)
	if o.Lock == nil {
		o.Lock = lock.Noop{}
	}
	if o.Collector == nil {
		o.Collector = noopCollector{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}
