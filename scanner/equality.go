package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/fieldq/fieldindex"
	"github.com/hupe1980/fieldq/model"
)

// Equality evaluates a single-value term in memory. It never spills.
type Equality struct {
	field string
	value string
	opts  Options

	uids    *roaring.Bitmap
	entries map[model.RowID][]model.Entry
	it      roaring.IntPeekable
	cur     Hit
	valid   bool
	err     error
	inited  bool
	closed  bool
}

var _ Scanner = (*Equality)(nil)

// NewEquality creates an equality scanner for field == value.
// Only the filters, key transform, collector and logger of opts apply.
func NewEquality(field, value string, opts Options) *Equality {
	return &Equality{field: field, value: value, opts: opts.normalize()}
}

// Field implements Scanner.
func (e *Equality) Field() string { return e.field }

// Init implements Scanner.
func (e *Equality) Init(ctx context.Context, src fieldindex.Source) (err error) {
	if e.inited {
		return ErrAlreadyInitialized
	}
	e.inited = true

	start := time.Now()
	var rows int64
	defer func() {
		e.opts.Collector.RecordPopulate(e.field, rows, false, time.Since(start), err)
	}()

	cur, err := src.Scan(ctx, model.Exact(e.field, e.value))
	if err != nil {
		return fmt.Errorf("scan %s: %w", e.field, err)
	}
	defer cur.Close()

	e.uids = roaring.New()
	e.entries = make(map[model.RowID][]model.Entry)
	for cur.Next() {
		ent := cur.Entry()
		// An empty value scans as an open range; keep exact matches only.
		if ent.Value != e.value {
			continue
		}
		if !e.opts.TimeFilter.Accept(ent.Timestamp) || !e.opts.DatatypeFilter.Accept(ent.Datatype) {
			continue
		}
		ent = e.opts.KeyTransform.Transform(ent)
		ent.Field = e.field
		e.uids.Add(uint32(ent.UID))
		e.entries[ent.UID] = append(e.entries[ent.UID], ent)
		rows++
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", e.field, err)
	}
	e.it = e.uids.Iterator()
	e.opts.Logger.Debug("equality scanned", "field", e.field, "uids", e.uids.GetCardinality())
	return nil
}

// Cardinality returns the number of matching UIDs.
func (e *Equality) Cardinality() uint64 {
	if e.uids == nil {
		return 0
	}
	return e.uids.GetCardinality()
}

func (e *Equality) ready() bool {
	if e.closed {
		return false
	}
	if e.it == nil {
		if e.err == nil {
			e.err = ErrNotInitialized
		}
		return false
	}
	return e.err == nil
}

// Next implements Scanner.
func (e *Equality) Next(ctx context.Context) bool {
	if !e.ready() {
		return false
	}
	if !e.it.HasNext() {
		e.valid = false
		return false
	}
	uid := model.RowID(e.it.Next())
	e.cur = Hit{UID: uid, Entries: e.entries[uid]}
	e.valid = true
	return true
}

// Seek implements Scanner.
func (e *Equality) Seek(ctx context.Context, target model.RowID) bool {
	if !e.ready() {
		return false
	}
	if err := ctx.Err(); err != nil {
		e.err = err
		return false
	}
	if e.valid && e.cur.UID >= target {
		return true
	}
	e.it.AdvanceIfNeeded(uint32(target))
	return e.Next(ctx)
}

// Hit implements Scanner.
func (e *Equality) Hit() Hit { return e.cur }

// Err implements Scanner.
func (e *Equality) Err() error { return e.err }

// Close implements Scanner.
func (e *Equality) Close() error {
	e.closed = true
	e.it = nil
	e.entries = nil
	e.valid = false
	return nil
}
