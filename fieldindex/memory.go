package fieldindex

import (
	"cmp"
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/fieldq/model"
)

// ctxCheckInterval is how many entries a cursor yields between context checks.
const ctxCheckInterval = 1024

// MemorySource is an in-memory Source for tests and small shards.
// Thread-safe for concurrent scans and writes.
type MemorySource struct {
	mu     sync.RWMutex
	fields map[string][]model.Entry
	dirty  map[string]bool
}

// NewMemorySource creates a MemorySource holding the given entries.
func NewMemorySource(entries ...model.Entry) *MemorySource {
	s := &MemorySource{
		fields: make(map[string][]model.Entry),
		dirty:  make(map[string]bool),
	}
	s.Add(entries...)
	return s
}

// Add inserts entries. Exact duplicates are kept once.
func (s *MemorySource) Add(entries ...model.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.fields[e.Field] = append(s.fields[e.Field], e)
		s.dirty[e.Field] = true
	}
}

// Len returns the number of entries stored for field.
func (s *MemorySource) Len(field string) int {
	return len(s.sorted(field))
}

// Fields returns the indexed field names in ascending order.
func (s *MemorySource) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.fields))
	for f := range s.fields {
		names = append(names, f)
	}
	slices.Sort(names)
	return names
}

func compareEntries(a, b model.Entry) int {
	if c := strings.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	if c := strings.Compare(a.Datatype, b.Datatype); c != 0 {
		return c
	}
	if c := cmp.Compare(a.UID, b.UID); c != 0 {
		return c
	}
	return cmp.Compare(a.Timestamp, b.Timestamp)
}

// sorted returns the field's entries in scan order, sorting lazily after writes.
func (s *MemorySource) sorted(field string) []model.Entry {
	s.mu.RLock()
	if !s.dirty[field] {
		entries := s.fields[field]
		s.mu.RUnlock()
		return entries
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty[field] {
		// Sort a copy: open cursors may still reference the previous slice.
		entries := slices.Clone(s.fields[field])
		slices.SortFunc(entries, compareEntries)
		s.fields[field] = slices.CompactFunc(entries, func(a, b model.Entry) bool {
			return compareEntries(a, b) == 0
		})
		delete(s.dirty, field)
	}
	return s.fields[field]
}

// lowerBound returns the index of the first entry at or after r's lower bound.
func lowerBound(entries []model.Entry, r model.LiteralRange) int {
	return sort.Search(len(entries), func(i int) bool {
		c := strings.Compare(entries[i].Value, r.Lower)
		if r.LowerInclusive {
			return c >= 0
		}
		return c > 0
	})
}

// Scan implements Source.
func (s *MemorySource) Scan(ctx context.Context, r model.LiteralRange) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := s.sorted(r.Field)
	return &memoryCursor{
		ctx:     ctx,
		entries: entries,
		pos:     lowerBound(entries, r) - 1,
		r:       r,
	}, nil
}

// SplitPoints implements Splitter.
func (s *MemorySource) SplitPoints(ctx context.Context, r model.LiteralRange, n int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, nil
	}

	entries := s.sorted(r.Field)
	var values []string
	for i := lowerBound(entries, r); i < len(entries); i++ {
		v := entries[i].Value
		if r.Below(v) {
			break
		}
		if len(values) == 0 || values[len(values)-1] != v {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return nil, nil
	}

	parts := min(n, len(values))
	points := make([]string, 0, parts-1)
	for i := 1; i < parts; i++ {
		p := values[i*len(values)/parts]
		if len(points) == 0 || points[len(points)-1] != p {
			points = append(points, p)
		}
	}
	return points, nil
}

type memoryCursor struct {
	ctx     context.Context
	entries []model.Entry
	pos     int
	r       model.LiteralRange
	yielded int
	err     error
	done    bool
}

func (c *memoryCursor) Next() bool {
	if c.done {
		return false
	}
	c.yielded++
	if c.yielded%ctxCheckInterval == 0 {
		if err := c.ctx.Err(); err != nil {
			c.err = err
			c.done = true
			return false
		}
	}
	c.pos++
	if c.pos >= len(c.entries) || c.r.Below(c.entries[c.pos].Value) {
		c.done = true
		return false
	}
	return true
}

func (c *memoryCursor) Entry() model.Entry { return c.entries[c.pos] }
func (c *memoryCursor) Err() error         { return c.err }

func (c *memoryCursor) Close() error {
	c.done = true
	return nil
}
