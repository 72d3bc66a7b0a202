package spill

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/fieldq/blobstore"
)

// Iterator is a forward-only stream of records.
type Iterator interface {
	Next() bool
	Record() Record
	Err() error
	Close() error
}

// SliceIterator iterates over an in-memory record slice.
type SliceIterator struct {
	records []Record
	pos     int
}

// NewSliceIterator returns an Iterator over records.
func NewSliceIterator(records []Record) *SliceIterator {
	return &SliceIterator{records: records, pos: -1}
}

func (s *SliceIterator) Next() bool {
	s.pos++
	return s.pos < len(s.records)
}

// Advance skips forward so that the next call to Next yields the first
// remaining record for which less reports false. less must be monotone over
// the remaining records.
func (s *SliceIterator) Advance(less func(Record) bool) {
	start := s.pos + 1
	if start >= len(s.records) {
		return
	}
	i := sort.Search(len(s.records)-start, func(i int) bool {
		return !less(s.records[start+i])
	})
	s.pos = start + i - 1
}

// Len returns the number of records.
func (s *SliceIterator) Len() int { return len(s.records) }

func (s *SliceIterator) Record() Record { return s.records[s.pos] }
func (s *SliceIterator) Err() error     { return nil }
func (s *SliceIterator) Close() error   { return nil }

type mergeHeap struct {
	order Order
	its   []Iterator
}

func (h *mergeHeap) Len() int { return len(h.its) }
func (h *mergeHeap) Less(i, j int) bool {
	return h.order.Compare(h.its[i].Record(), h.its[j].Record()) < 0
}
func (h *mergeHeap) Swap(i, j int) { h.its[i], h.its[j] = h.its[j], h.its[i] }
func (h *mergeHeap) Push(x any)    { h.its = append(h.its, x.(Iterator)) }
func (h *mergeHeap) Pop() any {
	old := h.its
	n := len(old)
	it := old[n-1]
	h.its = old[:n-1]
	return it
}

// Merger performs a k-way merge of ordered iterators, dropping exact
// duplicates across inputs.
type Merger struct {
	h       mergeHeap
	all     []Iterator
	cur     Record
	started bool
	primed  bool
	err     error
}

// NewMerger merges its, which must all be ordered by order.
// The Merger owns the iterators and closes them on Close.
func NewMerger(order Order, its ...Iterator) *Merger {
	return &Merger{h: mergeHeap{order: order}, all: its}
}

func (m *Merger) prime() {
	m.primed = true
	for _, it := range m.all {
		if it.Next() {
			m.h.its = append(m.h.its, it)
		} else if err := it.Err(); err != nil {
			m.err = err
			return
		}
	}
	heap.Init(&m.h)
}

// Next advances to the next distinct record.
func (m *Merger) Next() bool {
	if !m.primed {
		m.prime()
	}
	for m.err == nil && m.h.Len() > 0 {
		top := m.h.its[0]
		rec := top.Record()
		if top.Next() {
			heap.Fix(&m.h, 0)
		} else {
			if err := top.Err(); err != nil {
				m.err = err
				return false
			}
			heap.Pop(&m.h)
		}
		if m.started && m.h.order.Compare(m.cur, rec) == 0 {
			continue
		}
		m.cur = rec
		m.started = true
		return true
	}
	return false
}

func (m *Merger) Record() Record { return m.cur }
func (m *Merger) Err() error     { return m.err }

// Close closes all inputs.
func (m *Merger) Close() error {
	var errs []error
	for _, it := range m.all {
		errs = append(errs, it.Close())
	}
	m.all = nil
	m.h.its = nil
	return errors.Join(errs...)
}

// OpenMerged opens the named runs and merges them. Each open run holds a file
// slot until the returned Merger is closed.
func OpenMerged(ctx context.Context, store blobstore.BlobStore, names []string, opts Options) (*Merger, error) {
	its := make([]Iterator, 0, len(names))
	for _, name := range names {
		r, err := OpenRun(ctx, store, name, opts.Controller)
		if err != nil {
			for _, it := range its {
				_ = it.Close()
			}
			return nil, fmt.Errorf("open run %s: %w", name, err)
		}
		if r.Order() != opts.Order {
			_ = r.Close()
			for _, it := range its {
				_ = it.Close()
			}
			return nil, corrupt("run %s has order %d, want %d", name, r.Order(), opts.Order)
		}
		its = append(its, r)
	}
	return NewMerger(opts.Order, its...), nil
}

// CompactStats reports the work done by Compact.
type CompactStats struct {
	Passes int
	Merged int
}

// Compact merges runs in passes until at most maxOpen remain. Every merge
// holds its inputs and its output open at once, so a pass merges groups of
// maxOpen-1 runs. next names output runs. Inputs are deleted once merged.
func Compact(ctx context.Context, store blobstore.BlobStore, names []string, maxOpen int, next func() string, opts Options) ([]string, CompactStats, error) {
	var stats CompactStats
	if maxOpen < 3 {
		return nil, stats, fmt.Errorf("spill: compaction needs at least 3 open files, have %d", maxOpen)
	}
	fanIn := maxOpen - 1

	for len(names) > maxOpen {
		stats.Passes++
		var out []string
		for start := 0; start < len(names); start += fanIn {
			group := names[start:min(start+fanIn, len(names))]
			if len(group) == 1 {
				out = append(out, group[0])
				continue
			}
			name := next()
			if err := mergeInto(ctx, store, group, name, opts); err != nil {
				return nil, stats, err
			}
			for _, g := range group {
				if err := store.Delete(ctx, g); err != nil {
					return nil, stats, err
				}
			}
			stats.Merged += len(group)
			out = append(out, name)
		}
		names = out
	}
	return names, stats, nil
}

func mergeInto(ctx context.Context, store blobstore.BlobStore, inputs []string, name string, opts Options) (err error) {
	m, err := OpenMerged(ctx, store, inputs, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()

	if err := opts.Controller.AcquireFiles(ctx, 1); err != nil {
		return err
	}
	defer opts.Controller.ReleaseFiles(1)

	blob, err := store.Create(ctx, name)
	if err != nil {
		return err
	}
	defer blobstore.Finish(blob, &err)

	w, err := NewWriter(blob, opts.Codec, opts.Order, opts.blockSize())
	if err != nil {
		return err
	}
	for m.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Append(m.Record()); err != nil {
			return err
		}
	}
	if err := m.Err(); err != nil {
		return err
	}
	return w.Finish()
}
