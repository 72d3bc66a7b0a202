package fst

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/blevesearch/vellum"
	"github.com/hupe1980/fieldq/internal/compress"
)

// ErrUnknownCodec is returned for an unrecognized codec name.
var ErrUnknownCodec = compress.ErrUnknownType

// Set is an immutable, loaded value set.
// It is safe for concurrent use.
type Set struct {
	fst *vellum.FST

	boundsOnce sync.Once
	lo, hi     string
	boundsErr  error
}

// Len returns the number of values in the set.
func (s *Set) Len() int { return s.fst.Len() }

// Contains reports whether value is in the set.
func (s *Set) Contains(value string) (bool, error) {
	return s.fst.Contains([]byte(value))
}

// Bounds returns the smallest and largest values in the set.
func (s *Set) Bounds() (string, string, error) {
	s.boundsOnce.Do(func() {
		it, err := s.fst.Iterator(nil, nil)
		first := true
		for err == nil {
			k, _ := it.Current()
			if first {
				s.lo, first = string(k), false
			}
			s.hi = string(k)
			err = it.Next()
		}
		if !errors.Is(err, vellum.ErrIteratorDone) {
			s.boundsErr = err
		}
	})
	return s.lo, s.hi, s.boundsErr
}

// Values returns all values in ascending order.
func (s *Set) Values() ([]string, error) {
	var out []string
	it, err := s.fst.Iterator(nil, nil)
	for err == nil {
		k, _ := it.Current()
		out = append(out, string(k))
		err = it.Next()
	}
	if !errors.Is(err, vellum.ErrIteratorDone) {
		return nil, err
	}
	return out, nil
}

// Close releases the FST.
func (s *Set) Close() error { return s.fst.Close() }

// Decode parses an FST blob compressed with codec.
func Decode(data []byte, codec string) (*Set, error) {
	typ, err := compress.Parse(codec)
	if err != nil {
		return nil, err
	}
	raw, err := compress.Decode(data, typ)
	if err != nil {
		return nil, fmt.Errorf("fst: decompress %s: %w", typ, err)
	}
	f, err := vellum.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("fst: load: %w", err)
	}
	return &Set{fst: f}, nil
}

// Encode builds an FST over values (any order, duplicates allowed) and
// compresses it with codec.
func Encode(values []string, codec string) ([]byte, error) {
	typ, err := compress.Parse(codec)
	if err != nil {
		return nil, err
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var buf bytes.Buffer
	b, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, err
	}
	for _, v := range sorted {
		if err := b.Insert([]byte(v), 0); err != nil {
			return nil, fmt.Errorf("fst: insert %q: %w", v, err)
		}
	}
	if err := b.Close(); err != nil {
		return nil, err
	}
	return compress.Encode(buf.Bytes(), typ)
}
