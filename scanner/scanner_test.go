package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/fieldq/blobstore"
	"github.com/hupe1980/fieldq/cachedir"
	"github.com/hupe1980/fieldq/fieldindex"
	"github.com/hupe1980/fieldq/fst"
	"github.com/hupe1980/fieldq/model"
)

func newLoc(store blobstore.BlobStore, dir string) *cachedir.Location {
	return cachedir.NewLocation(store, "mem://test/"+dir, dir)
}

func entry(field, value string, uid model.RowID) model.Entry {
	return model.Entry{Field: field, Value: value, Datatype: "dt", UID: uid, Timestamp: 1000}
}

func collect(t *testing.T, s Scanner) []model.RowID {
	t.Helper()
	ctx := context.Background()
	var uids []model.RowID
	for s.Next(ctx) {
		uids = append(uids, s.Hit().UID)
	}
	require.NoError(t, s.Err())
	return uids
}

func collectHits(t *testing.T, s Scanner) []Hit {
	t.Helper()
	ctx := context.Background()
	var hits []Hit
	for s.Next(ctx) {
		hits = append(hits, s.Hit())
	}
	require.NoError(t, s.Err())
	return hits
}

func spillOptions() Options {
	opts := DefaultOptions()
	opts.PersistThreshold = 0
	opts.BufferSize = 2
	return opts
}

func msgSizeSource() *fieldindex.MemorySource {
	return fieldindex.NewMemorySource(
		entry("MSG_SIZE", "04", 1),
		entry("MSG_SIZE", "05", 2),
		entry("MSG_SIZE", "06", 3),
		entry("MSG_SIZE", "09", 4),
		entry("MSG_SIZE", "10", 5),
	)
}

func firstNameSource() *fieldindex.MemorySource {
	return fieldindex.NewMemorySource(
		entry("FIRST_NAME", "bob", 2),
		entry("FIRST_NAME", "bob", 1),
		entry("FIRST_NAME", "eve", 3),
		entry("FIRST_NAME", "alice", 4),
	)
}

func TestRange_MsgSize(t *testing.T) {
	r := model.NewLiteralRange("MSG_SIZE", "05", true, "10", false)

	for name, opts := range map[string]Options{"memory": DefaultOptions(), "spill": spillOptions()} {
		t.Run(name, func(t *testing.T) {
			s := NewRange(newLoc(blobstore.NewMemoryStore(), "q/msg"), r, opts)
			require.NoError(t, s.Init(context.Background(), msgSizeSource()))
			defer s.Close()

			assert.Equal(t, []model.RowID{2, 3, 4}, collect(t, s))
			assert.Equal(t, name == "spill", s.Spilled())
			assert.Equal(t, "range", s.Kind())
			assert.Equal(t, int64(3), s.Rows())
		})
	}
}

func TestList_FirstName(t *testing.T) {
	for name, opts := range map[string]Options{"memory": DefaultOptions(), "spill": spillOptions()} {
		t.Run(name, func(t *testing.T) {
			s := NewList(newLoc(blobstore.NewMemoryStore(), "q/fn"), "FIRST_NAME", []string{"bob", "eve"}, false, opts)
			require.NoError(t, s.Init(context.Background(), firstNameSource()))
			defer s.Close()

			assert.Equal(t, []model.RowID{1, 2, 3}, collect(t, s))
		})
	}
}

func TestList_MembershipNotOrder(t *testing.T) {
	a := NewList(newLoc(blobstore.NewMemoryStore(), "a"), "FIRST_NAME", []string{"eve", "bob", "bob"}, false, DefaultOptions())
	b := NewList(newLoc(blobstore.NewMemoryStore(), "b"), "FIRST_NAME", []string{"bob", "eve"}, false, DefaultOptions())
	require.NoError(t, a.Init(context.Background(), firstNameSource()))
	require.NoError(t, b.Init(context.Background(), firstNameSource()))

	assert.Equal(t, collect(t, b), collect(t, a))
	assert.Equal(t, a.term.key, b.term.key)
}

func TestList_Negated(t *testing.T) {
	s := NewList(newLoc(blobstore.NewMemoryStore(), "q/neg"), "FIRST_NAME", []string{"bob", "eve"}, true, DefaultOptions())
	require.NoError(t, s.Init(context.Background(), firstNameSource()))

	assert.Equal(t, []model.RowID{4}, collect(t, s))
}

func TestFSTList_MatchesExplicitSet(t *testing.T) {
	data, err := fst.Encode([]string{"eve", "bob"}, "")
	require.NoError(t, err)
	set, err := fst.Decode(data, "")
	require.NoError(t, err)

	for _, negated := range []bool{false, true} {
		t.Run(fmt.Sprintf("negated=%v", negated), func(t *testing.T) {
			viaFST, err := NewFSTList(newLoc(blobstore.NewMemoryStore(), "f"), "FIRST_NAME", set, "mem://fst/names", negated, spillOptions())
			require.NoError(t, err)
			explicit := NewList(newLoc(blobstore.NewMemoryStore(), "e"), "FIRST_NAME", []string{"bob", "eve"}, negated, DefaultOptions())

			require.NoError(t, viaFST.Init(context.Background(), firstNameSource()))
			require.NoError(t, explicit.Init(context.Background(), firstNameSource()))

			assert.Equal(t, collect(t, explicit), collect(t, viaFST))
		})
	}
}

func TestFilter_Predicate(t *testing.T) {
	even := func(v string) bool { return (v[len(v)-1]-'0')%2 == 0 }
	s := NewFilter(newLoc(blobstore.NewMemoryStore(), "q/f"), model.Unbounded("MSG_SIZE"), "even", even, DefaultOptions())
	require.NoError(t, s.Init(context.Background(), msgSizeSource()))

	assert.Equal(t, []model.RowID{1, 3, 5}, collect(t, s))
	assert.Equal(t, "filter", s.Kind())
}

func bigSource(n int) *fieldindex.MemorySource {
	src := fieldindex.NewMemorySource()
	for i := range n {
		src.Add(model.Entry{
			Field:     "F",
			Value:     fmt.Sprintf("v%03d", i%37),
			Datatype:  []string{"a", "b"}[i%2],
			UID:       model.RowID((i * 7919) % 211),
			Timestamp: int64(i),
		})
	}
	return src
}

func TestIvarator_SpillMatchesMemory(t *testing.T) {
	src := bigSource(600)
	r := model.Unbounded("F")

	for _, sorted := range []bool{true, false} {
		t.Run(fmt.Sprintf("sorted=%v", sorted), func(t *testing.T) {
			memOpts := DefaultOptions()
			memOpts.SortedUIDs = sorted
			mem := NewRange(newLoc(blobstore.NewMemoryStore(), "m"), r, memOpts)
			require.NoError(t, mem.Init(context.Background(), src))
			defer mem.Close()

			spOpts := memOpts
			spOpts.PersistThreshold = 50
			spOpts.BufferSize = 13
			spOpts.MaxRangeSplit = 4
			spOpts.MaxOpenFiles = 3
			sp := NewRange(newLoc(blobstore.NewMemoryStore(), "s"), r, spOpts)
			require.NoError(t, sp.Init(context.Background(), src))
			defer sp.Close()

			require.False(t, mem.Spilled())
			require.True(t, sp.Spilled())

			want := collectHits(t, mem)
			got := collectHits(t, sp)
			assert.Equal(t, want, got)
			assert.LessOrEqual(t, sp.PeakOpenFiles(), int64(3))
		})
	}
}

func TestIvarator_SortedGroupsEntriesPerUID(t *testing.T) {
	src := fieldindex.NewMemorySource(
		entry("F", "a", 1),
		entry("F", "b", 1),
		entry("F", "a", 2),
	)
	s := NewRange(newLoc(blobstore.NewMemoryStore(), "g"), model.Unbounded("F"), spillOptions())
	require.NoError(t, s.Init(context.Background(), src))

	hits := collectHits(t, s)
	require.Len(t, hits, 2)
	assert.Equal(t, model.RowID(1), hits[0].UID)
	require.Len(t, hits[0].Entries, 2)
	assert.Equal(t, "a", hits[0].Entries[0].Value)
	assert.Equal(t, "b", hits[0].Entries[1].Value)
	assert.Equal(t, "F", hits[0].Entries[0].Field)
}

func TestIvarator_CompactionRespectsMaxOpenFiles(t *testing.T) {
	store := blobstore.NewMemoryStore()
	loc := newLoc(store, "c")
	opts := spillOptions()
	opts.BufferSize = 5
	opts.MaxOpenFiles = 4
	col := &recordingCollector{}
	opts.Collector = col

	s := NewRange(loc, model.Unbounded("F"), opts)
	require.NoError(t, s.Init(context.Background(), bigSource(400)))
	defer s.Close()

	m, err := readManifest(context.Background(), loc)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.LessOrEqual(t, len(m.Runs), 4)
	assert.Equal(t, "uid", m.Order)
	assert.Positive(t, col.compactions)
	assert.LessOrEqual(t, s.PeakOpenFiles(), int64(4))
	assert.NotEmpty(t, collect(t, s))
}

type recordingCollector struct {
	mu          sync.Mutex
	populates   int
	spills      int
	compactions int
	reuses      int
	lastErr     error
}

func (c *recordingCollector) RecordPopulate(_ string, _ int64, _ bool, _ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.populates++
	c.lastErr = err
}

func (c *recordingCollector) RecordSpill(string, int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spills++
}

func (c *recordingCollector) RecordCompaction(string, int, int, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compactions++
}

func (c *recordingCollector) RecordCacheReuse(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reuses++
}

func sharedOptions(scanID string) Options {
	opts := spillOptions()
	opts.ScanID = scanID
	return opts
}

func TestIvarator_ReusesCompletedDirectory(t *testing.T) {
	store := blobstore.NewMemoryStore()
	r := model.NewLiteralRange("MSG_SIZE", "05", true, "10", false)

	first := NewRange(newLoc(store, "q/reuse"), r, sharedOptions("shard-1"))
	require.NoError(t, first.Init(context.Background(), msgSizeSource()))
	want := collect(t, first)
	require.NoError(t, first.Close())

	col := &recordingCollector{}
	second := NewRange(newLoc(store, "q/reuse"), r, sharedOptions("shard-1"))
	second.SetCollector(col)
	require.NoError(t, second.Init(context.Background(), fieldindex.NewMemorySource()))
	defer second.Close()

	assert.Equal(t, want, collect(t, second))
	assert.Equal(t, 1, col.reuses)
	assert.Equal(t, 0, col.populates)
}

func TestIvarator_ReuseNeedsMatchingScan(t *testing.T) {
	r := model.Unbounded("MSG_SIZE")
	other := fieldindex.NewMemorySource(entry("MSG_SIZE", "07", 42))

	tests := []struct {
		name string
		opts func() Options
		src  fieldindex.Source
		want []model.RowID
	}{
		{
			name: "NoScanID",
			opts: spillOptions,
			src:  other,
			want: []model.RowID{42},
		},
		{
			name: "OtherScanID",
			opts: func() Options { return sharedOptions("shard-2") },
			src:  other,
			want: []model.RowID{42},
		},
		{
			name: "OtherDatatypes",
			opts: func() Options {
				opts := sharedOptions("shard-1")
				opts.DatatypeFilter = model.NewDatatypeSet("nomatch")
				return opts
			},
			src:  msgSizeSource(),
			want: nil,
		},
		{
			name: "OtherTimeRange",
			opts: func() Options {
				opts := sharedOptions("shard-1")
				opts.TimeFilter = model.TimeRange{Begin: 0, End: 10}
				return opts
			},
			src:  msgSizeSource(),
			want: nil,
		},
		{
			name: "UnnamedTransform",
			opts: func() Options {
				opts := sharedOptions("shard-1")
				opts.KeyTransform = model.KeyTransformFunc(func(e model.Entry) model.Entry { return e })
				return opts
			},
			src:  other,
			want: []model.RowID{42},
		},
		{
			name: "SameScan",
			opts: func() Options { return sharedOptions("shard-1") },
			src:  other,
			want: []model.RowID{1, 2, 3, 4, 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemoryStore()

			first := NewRange(newLoc(store, "q/scan"), r, sharedOptions("shard-1"))
			require.NoError(t, first.Init(ctx, msgSizeSource()))
			require.Equal(t, []model.RowID{1, 2, 3, 4, 5}, collect(t, first))
			require.NoError(t, first.Close())

			second := NewRange(newLoc(store, "q/scan"), r, tt.opts())
			require.NoError(t, second.Init(ctx, tt.src))
			defer second.Close()
			assert.Equal(t, tt.want, collect(t, second))
		})
	}
}

func TestIvarator_ConcurrentInitSharingDirectory(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	src := bigSource(500)
	r := model.Unbounded("F")

	opts := sharedOptions("shard-1")
	opts.BufferSize = 7
	opts.MaxRangeSplit = 3
	opts.MaxOpenFiles = 3

	mem := NewRange(newLoc(blobstore.NewMemoryStore(), "m"), r, DefaultOptions())
	require.NoError(t, mem.Init(ctx, src))
	want := collectHits(t, mem)

	const n = 4
	scanners := make([]*Ivarator, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		scanners[i] = NewRange(newLoc(store, "q/concurrent"), r, opts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = scanners[i].Init(ctx, src)
		}()
	}
	wg.Wait()

	for i, s := range scanners {
		require.NoError(t, errs[i])
		assert.Equal(t, want, collectHits(t, s))
		require.NoError(t, s.Close())
	}

	col := &recordingCollector{}
	later := NewRange(newLoc(store, "q/concurrent"), r, opts)
	later.SetCollector(col)
	require.NoError(t, later.Init(ctx, fieldindex.NewMemorySource()))
	defer later.Close()
	assert.Equal(t, want, collectHits(t, later))
	assert.Equal(t, 1, col.reuses)
}

func TestIvarator_DiscardsIncompleteDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("ExclusiveLock", func(t *testing.T) {
		l := &MockLock{}
		l.On("Lock", mock.Anything).Return(nil).Once()
		l.On("Unlock", mock.Anything).Return(nil).Once()

		store := blobstore.NewMemoryStore()
		loc := newLoc(store, "q/stale")
		require.NoError(t, store.Put(ctx, loc.Path("run-000099"), []byte("garbage")))

		opts := spillOptions()
		opts.Lock = l
		s := NewRange(loc, model.Unbounded("MSG_SIZE"), opts)
		require.NoError(t, s.Init(ctx, msgSizeSource()))

		assert.Equal(t, []model.RowID{1, 2, 3, 4, 5}, collect(t, s))
		names, err := loc.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, names, "run-000099")
		assert.Contains(t, names, markerName)
		l.AssertExpectations(t)
	})

	t.Run("NoLock", func(t *testing.T) {
		store := blobstore.NewMemoryStore()
		loc := newLoc(store, "q/stale")
		require.NoError(t, store.Put(ctx, loc.Path("run-000099"), []byte("garbage")))

		s := NewRange(loc, model.Unbounded("MSG_SIZE"), spillOptions())
		require.NoError(t, s.Init(ctx, msgSizeSource()))
		assert.Equal(t, []model.RowID{1, 2, 3, 4, 5}, collect(t, s))

		// Leftovers may belong to a running population and are kept.
		names, err := loc.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, "run-000099")
		m, err := readManifest(ctx, loc)
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.NotContains(t, m.Runs, "run-000099")
	})
}

type MockLock struct {
	mock.Mock
}

func (m *MockLock) Lock(ctx context.Context) error   { return m.Called(ctx).Error(0) }
func (m *MockLock) Unlock(ctx context.Context) error { return m.Called(ctx).Error(0) }

func TestIvarator_HoldsLockDuringPopulation(t *testing.T) {
	l := &MockLock{}
	l.On("Lock", mock.Anything).Return(nil).Once()
	l.On("Unlock", mock.Anything).Return(nil).Once()

	opts := spillOptions()
	opts.Lock = l
	s := NewRange(newLoc(blobstore.NewMemoryStore(), "l"), model.Unbounded("MSG_SIZE"), opts)
	require.NoError(t, s.Init(context.Background(), msgSizeSource()))

	l.AssertExpectations(t)
}

func TestIvarator_LockFailure(t *testing.T) {
	l := &MockLock{}
	l.On("Lock", mock.Anything).Return(errors.New("held")).Once()

	opts := DefaultOptions()
	opts.Lock = l
	s := NewRange(newLoc(blobstore.NewMemoryStore(), "l"), model.Unbounded("MSG_SIZE"), opts)
	err := s.Init(context.Background(), msgSizeSource())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "held")
	l.AssertNotCalled(t, "Unlock", mock.Anything)
}

type blockingSource struct{}

func (blockingSource) Scan(ctx context.Context, _ model.LiteralRange) (fieldindex.Cursor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestIvarator_ScanTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.ScanTimeout = 20 * time.Millisecond
	col := &recordingCollector{}
	opts.Collector = col

	s := NewRange(newLoc(blobstore.NewMemoryStore(), "t"), model.Unbounded("F"), opts)
	err := s.Init(context.Background(), blockingSource{})

	require.ErrorIs(t, err, ErrScanTimeout)
	assert.Equal(t, 1, col.populates)
	assert.ErrorIs(t, col.lastErr, ErrScanTimeout)
}

func TestIvarator_Filters(t *testing.T) {
	src := fieldindex.NewMemorySource(
		model.Entry{Field: "F", Value: "x", Datatype: "keep", UID: 1, Timestamp: 10},
		model.Entry{Field: "F", Value: "x", Datatype: "drop", UID: 2, Timestamp: 10},
		model.Entry{Field: "F", Value: "x", Datatype: "keep", UID: 3, Timestamp: 99},
		model.Entry{Field: "F", Value: "y", Datatype: "keep", UID: 4, Timestamp: 11},
	)
	opts := DefaultOptions()
	opts.DatatypeFilter = model.NewDatatypeSet("keep")
	opts.TimeFilter = model.TimeRange{Begin: 0, End: 50}
	opts.KeyTransform = model.KeyTransformFunc(func(e model.Entry) model.Entry {
		e.UID += 100
		return e
	})

	s := NewRange(newLoc(blobstore.NewMemoryStore(), "flt"), model.Unbounded("F"), opts)
	require.NoError(t, s.Init(context.Background(), src))

	assert.Equal(t, []model.RowID{101, 104}, collect(t, s))
}

func TestIvarator_Seek(t *testing.T) {
	for name, opts := range map[string]Options{"memory": DefaultOptions(), "spill": spillOptions()} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := NewRange(newLoc(blobstore.NewMemoryStore(), "seek"), model.Unbounded("MSG_SIZE"), opts)
			require.NoError(t, s.Init(ctx, msgSizeSource()))

			require.True(t, s.Seek(ctx, 3))
			assert.Equal(t, model.RowID(3), s.Hit().UID)
			// Seeking backwards keeps the position.
			require.True(t, s.Seek(ctx, 1))
			assert.Equal(t, model.RowID(3), s.Hit().UID)
			require.True(t, s.Next(ctx))
			assert.Equal(t, model.RowID(4), s.Hit().UID)
			assert.False(t, s.Seek(ctx, 6))
			assert.NoError(t, s.Err())
		})
	}
}

func TestIvarator_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewRange(newLoc(blobstore.NewMemoryStore(), "life"), model.Unbounded("MSG_SIZE"), DefaultOptions())

	assert.False(t, s.Next(ctx))
	assert.ErrorIs(t, s.Err(), ErrNotInitialized)

	s2 := NewRange(newLoc(blobstore.NewMemoryStore(), "life2"), model.Unbounded("MSG_SIZE"), DefaultOptions())
	require.NoError(t, s2.Init(ctx, msgSizeSource()))
	assert.ErrorIs(t, s2.Init(ctx, msgSizeSource()), ErrAlreadyInitialized)
	require.NoError(t, s2.Close())
	assert.False(t, s2.Next(ctx))
	assert.NoError(t, s2.Err())
}

func TestEquality(t *testing.T) {
	ctx := context.Background()
	s := NewEquality("FIRST_NAME", "bob", DefaultOptions())
	require.NoError(t, s.Init(ctx, firstNameSource()))

	assert.Equal(t, uint64(2), s.Cardinality())
	assert.Equal(t, []model.RowID{1, 2}, collect(t, s))

	s2 := NewEquality("FIRST_NAME", "bob", DefaultOptions())
	require.NoError(t, s2.Init(ctx, firstNameSource()))
	require.True(t, s2.Seek(ctx, 2))
	assert.Equal(t, model.RowID(2), s2.Hit().UID)
	assert.Equal(t, "bob", s2.Hit().Entries[0].Value)
	assert.False(t, s2.Next(ctx))
}
