package fieldq

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/fieldq/blobstore"
	"github.com/hupe1980/fieldq/cachedir"
	"github.com/hupe1980/fieldq/fieldindex"
	"github.com/hupe1980/fieldq/fst"
	"github.com/hupe1980/fieldq/model"
	"github.com/hupe1980/fieldq/nested"
)

func msgSizeSource() *fieldindex.MemorySource {
	src := fieldindex.NewMemorySource()
	for i, v := range []string{"04", "05", "06", "09", "10"} {
		src.Add(model.Entry{Field: "MSG_SIZE", Value: v, Datatype: "mail", UID: model.RowID(i + 1)})
	}
	return src
}

func firstNameSource() *fieldindex.MemorySource {
	return fieldindex.NewMemorySource(
		model.Entry{Field: "FIRST_NAME", Value: "bob", Datatype: "person", UID: 1},
		model.Entry{Field: "FIRST_NAME", Value: "bob", Datatype: "person", UID: 2},
		model.Entry{Field: "FIRST_NAME", Value: "eve", Datatype: "person", UID: 3},
		model.Entry{Field: "FIRST_NAME", Value: "alice", Datatype: "person", UID: 4},
	)
}

func uids(t *testing.T, it nested.Iterator) []model.RowID {
	t.Helper()
	var out []model.RowID
	for it.Next(context.Background()) {
		out = append(out, it.UID())
	}
	require.NoError(t, it.Err())
	return out
}

func TestRange_MsgSizeScenario(t *testing.T) {
	ctx := context.Background()
	r := model.NewLiteralRange("MSG_SIZE", "05", true, "10", false)

	for name, threshold := range map[string]int64{"memory": 100, "spill": 0} {
		t.Run(name, func(t *testing.T) {
			it, err := Range(r).
				Source(msgSizeSource()).
				CacheDir(t.TempDir()).
				PersistThreshold(threshold).
				Build(ctx)
			require.NoError(t, err)
			defer it.Close()

			assert.Equal(t, []model.RowID{2, 3, 4}, uids(t, it))
		})
	}
}

func TestList_FirstNameScenario(t *testing.T) {
	ctx := context.Background()
	it, err := List("FIRST_NAME", Values("bob", "eve")).
		Source(firstNameSource()).
		CacheDir("mem://list-scenario").
		Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, []model.RowID{1, 2, 3}, uids(t, it))
}

func TestList_ValueOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	a, err := List("FIRST_NAME", Values("eve", "bob")).Source(firstNameSource()).CacheDir("mem://order").Build(ctx)
	require.NoError(t, err)
	b, err := List("FIRST_NAME", Values("bob", "eve", "bob")).Source(firstNameSource()).CacheDir("mem://order").Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, uids(t, a), uids(t, b))
}

func TestList_NegatedAndFST(t *testing.T) {
	ctx := context.Background()
	uri := "mem://fsts/names.fst"
	require.NoError(t, fst.Write(ctx, uri, "zstd", []string{"eve", "bob"}, cachedir.Resolve))
	m := fst.NewManager()

	viaFST, err := List("FIRST_NAME", FST(uri, "zstd")).
		Source(firstNameSource()).
		CacheDir("mem://fst-list").
		FSTManager(m).
		Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.RowID{1, 2, 3}, uids(t, viaFST))

	negated, err := List("FIRST_NAME", FST(uri, "zstd").Negated()).
		Source(firstNameSource()).
		CacheDir("mem://fst-list").
		FSTManager(m).
		Build(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.RowID{4}, uids(t, negated))
	assert.Equal(t, 1, m.Len())
}

func TestFilter(t *testing.T) {
	ctx := context.Background()
	it, err := Filter(model.Unbounded("FIRST_NAME"), "short", func(v string) bool { return len(v) == 3 }).
		Source(firstNameSource()).
		CacheDir("mem://filter").
		Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, []model.RowID{1, 2, 3}, uids(t, it))
}

func TestValidation_ListsMissingParameters(t *testing.T) {
	ctx := context.Background()

	_, err := Range(model.LiteralRange{}).Build(ctx)
	require.ErrorIs(t, err, ErrConfiguration)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"field", "range", "source", "cacheDir"}, cfgErr.Missing)

	_, err = Cardinality("", "").Build(ctx)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"field", "source"}, cfgErr.Missing)

	_, err = CardinalityBuilder{}.Build(ctx)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"field", "value", "source"}, cfgErr.Missing)

	_, err = List("F", ValueSource{}).Source(firstNameSource()).CacheDir("mem://v").Build(ctx)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"values"}, cfgErr.Missing)

	_, err = Filter(model.Unbounded("F"), "nil", nil).Source(firstNameSource()).CacheDir("mem://v").Build(ctx)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"filter"}, cfgErr.Missing)
}

func TestValidation_InvalidConfig(t *testing.T) {
	_, err := Range(model.Unbounded("MSG_SIZE")).
		Source(msgSizeSource()).
		CacheDir("mem://cfg").
		Compression("brotli").
		Build(context.Background())

	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBuild_CacheDirFailureIsConfigurationError(t *testing.T) {
	_, err := Range(model.Unbounded("MSG_SIZE")).
		Source(msgSizeSource()).
		CacheDir("ftp://nowhere/cache").
		Build(context.Background())

	require.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, cachedir.ErrUnsupportedScheme)
}

type failingSource struct{}

var errSource = errors.New("tablet unavailable")

func (failingSource) Scan(context.Context, model.LiteralRange) (fieldindex.Cursor, error) {
	return nil, errSource
}

func TestBuild_InitFailureIsConfigurationError(t *testing.T) {
	_, err := Range(model.Unbounded("MSG_SIZE")).
		Source(failingSource{}).
		CacheDir("mem://init-failure").
		Build(context.Background())

	require.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, errSource)
	assert.Contains(t, err.Error(), "scanner initialization")

	_, err = Cardinality("MSG_SIZE", "05").Source(failingSource{}).Build(context.Background())
	assert.ErrorIs(t, err, errSource)
}

func TestAggregationDecision(t *testing.T) {
	ctx := context.Background()
	base := Cardinality("FIRST_NAME", "bob").Source(firstNameSource())

	cases := []struct {
		name string
		b    CardinalityBuilder
		want bool
	}{
		{"none", base, false},
		{"aggregate", base.Aggregate("FIRST_NAME"), true},
		{"other field", base.Aggregate("LAST_NAME"), false},
		{"index only", base.IndexOnly("FIRST_NAME"), true},
		{"forced", base.ForceDocumentBuild(true), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it, err := tc.b.Build(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, it.Aggregating())

			require.True(t, it.Next(ctx))
			if tc.want {
				assert.Equal(t, []string{"bob"}, it.Document().Values("FIRST_NAME"))
			} else {
				assert.Nil(t, it.Document())
			}
		})
	}
}

func TestAggregationDecision_Ivarator(t *testing.T) {
	ctx := context.Background()
	it, err := Range(model.Unbounded("MSG_SIZE")).
		Source(msgSizeSource()).
		CacheDir("mem://agg").
		IndexOnly("MSG_SIZE").
		TypeMetadata(model.TypeMetadata{"MSG_SIZE": {"Number"}}).
		Build(ctx)
	require.NoError(t, err)

	require.True(t, it.Aggregating())
	require.True(t, it.Next(ctx))
	attrs := it.Document()["MSG_SIZE"]
	require.Len(t, attrs, 1)
	assert.Equal(t, []string{"Number"}, attrs[0].Types)
}

func TestCardinality_EmptyValue(t *testing.T) {
	src := fieldindex.NewMemorySource(
		model.Entry{Field: "MIDDLE_NAME", Value: "", Datatype: "person", UID: 1},
		model.Entry{Field: "MIDDLE_NAME", Value: "ann", Datatype: "person", UID: 2},
		model.Entry{Field: "MIDDLE_NAME", Value: "", Datatype: "person", UID: 3},
	)

	it, err := Cardinality("MIDDLE_NAME", "").Source(src).Build(context.Background())
	require.NoError(t, err)
	defer it.Close()
	assert.Equal(t, []model.RowID{1, 3}, uids(t, it))
}

// Build never mutates its receiver, so a builder has no built state to
// reject; building twice yields two independent iterators.
func TestBuilders_EveryBuildIsFresh(t *testing.T) {
	ctx := context.Background()
	base := Cardinality("FIRST_NAME", "bob").Source(firstNameSource())
	withAgg := base.Aggregate("FIRST_NAME")

	first, err := base.Build(ctx)
	require.NoError(t, err)
	second, err := base.Build(ctx)
	require.NoError(t, err)

	assert.False(t, first.Aggregating())
	assert.False(t, base.aggregates("FIRST_NAME"))
	assert.True(t, withAgg.aggregates("FIRST_NAME"))
	// Each build is independent.
	assert.Equal(t, []model.RowID{1, 2}, uids(t, first))
	assert.Equal(t, []model.RowID{1, 2}, uids(t, second))
}

func TestIvaratorBuilds_SharedQueryID(t *testing.T) {
	ctx := context.Background()
	provider := cachedir.NewProvider("mem://shared-query")
	one := fieldindex.NewMemorySource(model.Entry{Field: "MSG_SIZE", Value: "07", Datatype: "mail", UID: 42})

	build := func(b RangeBuilder) []model.RowID {
		t.Helper()
		it, err := b.CacheProvider(provider).QueryID("q").PersistThreshold(0).Build(ctx)
		require.NoError(t, err)
		defer it.Close()
		return uids(t, it)
	}
	all := Range(model.Unbounded("MSG_SIZE")).Source(msgSizeSource())

	t.Run("WithoutScanID", func(t *testing.T) {
		assert.Equal(t, []model.RowID{1, 2, 3, 4, 5}, build(all))
		assert.Empty(t, build(all.Datatypes(model.NewDatatypeSet("nomatch"))))
		assert.Equal(t, []model.RowID{42}, build(Range(model.Unbounded("MSG_SIZE")).Source(one)))
	})

	t.Run("WithScanID", func(t *testing.T) {
		col := &BasicTimingCollector{}
		shard := all.ScanID("shard-1").Collector(col)

		assert.Equal(t, []model.RowID{1, 2, 3, 4, 5}, build(shard))
		assert.Equal(t, []model.RowID{1, 2, 3, 4, 5}, build(shard))
		assert.Equal(t, int64(1), col.GetStats().CacheReuses)

		// Filters are part of the scan identity.
		assert.Empty(t, build(shard.Datatypes(model.NewDatatypeSet("nomatch"))))
		// So is the ScanID naming the source.
		assert.Equal(t, []model.RowID{42}, build(Range(model.Unbounded("MSG_SIZE")).Source(one).ScanID("shard-2")))
		assert.Equal(t, int64(1), col.GetStats().CacheReuses)
	})

	t.Run("Concurrent", func(t *testing.T) {
		var g errgroup.Group
		results := make([][]model.RowID, 4)
		for i := range results {
			g.Go(func() error {
				it, err := all.CacheProvider(provider).QueryID("q-concurrent").PersistThreshold(0).BufferSize(2).Build(ctx)
				if err != nil {
					return err
				}
				defer it.Close()
				for it.Next(ctx) {
					results[i] = append(results[i], it.UID())
				}
				return it.Err()
			})
		}
		require.NoError(t, g.Wait())
		for _, got := range results {
			assert.Equal(t, []model.RowID{1, 2, 3, 4, 5}, got)
		}
	})
}

func TestAndOr(t *testing.T) {
	ctx := context.Background()
	provider := cachedir.NewProvider("mem://and-or")
	src := fieldindex.NewMemorySource(
		model.Entry{Field: "COLOR", Value: "red", UID: 1},
		model.Entry{Field: "COLOR", Value: "red", UID: 2},
		model.Entry{Field: "COLOR", Value: "blue", UID: 3},
		model.Entry{Field: "SIZE", Value: "L", UID: 2},
		model.Entry{Field: "SIZE", Value: "L", UID: 3},
		model.Entry{Field: "SIZE", Value: "S", UID: 1},
	)

	red, err := Cardinality("COLOR", "red").Source(src).Build(ctx)
	require.NoError(t, err)
	large, err := List("SIZE", Values("L")).Source(src).CacheProvider(provider).QueryID("q1").Build(ctx)
	require.NoError(t, err)
	small, err := Cardinality("SIZE", "S").Source(src).Build(ctx)
	require.NoError(t, err)

	and, err := And().Include(red, large).Exclude(small).Build()
	require.NoError(t, err)
	assert.Equal(t, []model.RowID{2}, uids(t, and))

	blue, err := Cardinality("COLOR", "blue").Source(src).Build(ctx)
	require.NoError(t, err)
	large2, err := List("SIZE", Values("L")).Source(src).CacheProvider(provider).QueryID("q1").Build(ctx)
	require.NoError(t, err)
	or, err := Or().Include(blue, large2).Build()
	require.NoError(t, err)
	assert.Equal(t, []model.RowID{2, 3}, uids(t, or))
	require.NoError(t, and.Close())
	require.NoError(t, or.Close())
}

func TestAndOr_NoIncludes(t *testing.T) {
	_, err := And().Build()
	assert.ErrorIs(t, err, ErrNoIncludes)
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = Or().Build()
	assert.ErrorIs(t, err, ErrNoIncludes)
}

func TestCollectorAndConfig(t *testing.T) {
	ctx := context.Background()
	col := &BasicTimingCollector{}
	cfg := DefaultIvaratorConfig()
	cfg.CacheDir = filepath.Join(t.TempDir(), "cache")
	cfg.PersistThreshold = 0
	cfg.BufferSize = 1
	cfg.MaxOpenFiles = 3
	cfg.Compression = "zstd"

	it, err := Range(model.Unbounded("MSG_SIZE")).
		Source(msgSizeSource()).
		Config(cfg).
		Collector(col).
		QueryID("query-1").
		Build(ctx)
	require.NoError(t, err)
	assert.Len(t, uids(t, it), 5)

	stats := col.GetStats()
	assert.Equal(t, int64(1), stats.PopulateCount)
	assert.Equal(t, int64(5), stats.PopulateRows)
	assert.Equal(t, int64(1), stats.SpilledTerms)
	assert.Positive(t, stats.SpillRuns)
	assert.Positive(t, stats.CompactionPasses)

	store := blobstore.NewLocalStore(cfg.CacheDir)
	names, err := store.List(ctx, "query-1/")
	require.NoError(t, err)
	assert.NotEmpty(t, names)
}
