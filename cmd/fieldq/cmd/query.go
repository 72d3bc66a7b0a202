package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hupe1980/fieldq"
	"github.com/hupe1980/fieldq/cachedir"
	"github.com/hupe1980/fieldq/fieldindex"
	"github.com/hupe1980/fieldq/fst"
	"github.com/hupe1980/fieldq/lock"
	"github.com/hupe1980/fieldq/model"
	"github.com/hupe1980/fieldq/nested"
)

// Query is a YAML query tree. Exactly one member is set per node.
type Query struct {
	Equals *EqualsTerm `yaml:"equals"`
	Range  *RangeTerm  `yaml:"range"`
	List   *ListTerm   `yaml:"list"`
	Prefix *PrefixTerm `yaml:"prefix"`
	And    *AndNode    `yaml:"and"`
	Or     []Query     `yaml:"or"`
}

// EqualsTerm is field == value.
type EqualsTerm struct {
	Field string `yaml:"field"`
	Value string `yaml:"value"`
}

// RangeTerm is a bounded range.
type RangeTerm struct {
	Field          string `yaml:"field"`
	Lower          string `yaml:"lower"`
	Upper          string `yaml:"upper"`
	LowerInclusive bool   `yaml:"lower_inclusive"`
	UpperInclusive bool   `yaml:"upper_inclusive"`
}

// ListTerm is field in values, or field in the FST at fst.
type ListTerm struct {
	Field   string   `yaml:"field"`
	Values  []string `yaml:"values"`
	FST     string   `yaml:"fst"`
	Codec   string   `yaml:"codec"`
	Negated bool     `yaml:"negated"`
}

// PrefixTerm matches values starting with prefix.
type PrefixTerm struct {
	Field  string `yaml:"field"`
	Prefix string `yaml:"prefix"`
}

// AndNode intersects includes and removes excludes.
type AndNode struct {
	Include []Query `yaml:"include"`
	Exclude []Query `yaml:"exclude"`
}

// Hit is one query result.
type Hit struct {
	UID      model.RowID         `json:"uid"`
	Document map[string][]string `json:"document,omitempty"`
}

type queryOptions struct {
	index     string
	query     string
	config    string
	cacheDir  string
	lockFile  string
	queryID   string
	scanID    string
	threshold int64
	aggregate []string
	jsonOut   bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Evaluate a query against an index fixture",
		Long: `Evaluate a YAML query tree against a YAML index fixture and print the
matching UIDs in ascending order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.index, "index", "", "Index fixture (YAML)")
	cmd.Flags().StringVar(&opts.query, "query", "", "Query tree (YAML)")
	cmd.Flags().StringVar(&opts.config, "config", "", "Ivarator config (YAML)")
	cmd.Flags().StringVar(&opts.cacheDir, "cache-dir", "", "Ivarator cache directory URI (overrides config)")
	cmd.Flags().StringVar(&opts.lockFile, "lock-file", "", "Hold this file lock while populating cache directories")
	cmd.Flags().StringVar(&opts.queryID, "query-id", "", "Query ID scoping the cache directories (default: random)")
	cmd.Flags().StringVar(&opts.scanID, "scan-id", "", "Identity of the scanned index; completed cache directories with the same query and scan ID are reused")
	cmd.Flags().Int64Var(&opts.threshold, "persist-threshold", -1, "Rows above which terms spill (overrides config)")
	cmd.Flags().StringSliceVar(&opts.aggregate, "aggregate", nil, "Fields whose values are printed")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("index")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}

func runQuery(ctx context.Context, w io.Writer, opts queryOptions) error {
	src, types, err := LoadFixture(opts.index)
	if err != nil {
		return err
	}
	var q Query
	if err := loadYAML(opts.query, &q); err != nil {
		return err
	}

	cfg := fieldq.DefaultIvaratorConfig()
	if opts.config != "" {
		if cfg, err = fieldq.LoadIvaratorConfig(opts.config); err != nil {
			return err
		}
	}
	if opts.cacheDir != "" {
		cfg.CacheDir = opts.cacheDir
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "mem://fieldq"
	}
	if opts.threshold >= 0 {
		cfg.PersistThreshold = opts.threshold
	}

	e := &evaluator{
		src:      src,
		types:    types,
		cfg:      cfg,
		provider: cachedir.NewProvider(cfg.CacheDir),
		queryID:  opts.queryID,
		scanID:   opts.scanID,
		fsts:     fst.NewManager(fst.WithCacheSize(cfg.FSTCacheSize)),
		logger:   newLogger(),
		lock:     lock.Noop{},
		agg:      opts.aggregate,
	}
	if e.queryID == "" {
		e.queryID = uuid.NewString()
	}
	if opts.lockFile != "" {
		e.lock = lock.NewFileLock(opts.lockFile)
	}

	it, err := e.build(ctx, q)
	if err != nil {
		return err
	}
	defer it.Close()

	var hits []Hit
	for it.Next(ctx) {
		h := Hit{UID: it.UID()}
		if doc := it.Document(); len(doc) > 0 {
			h.Document = make(map[string][]string, len(doc))
			for field := range doc {
				h.Document[field] = doc.Values(field)
			}
		}
		hits = append(hits, h)
	}
	if err := it.Err(); err != nil {
		return err
	}
	return writeHits(w, hits, opts.jsonOut)
}

func writeHits(w io.Writer, hits []Hit, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"UID", "Document"})
	for _, h := range hits {
		fields := make([]string, 0, len(h.Document))
		for f := range h.Document {
			fields = append(fields, f)
		}
		slices.Sort(fields)
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f+"="+strings.Join(h.Document[f], ","))
		}
		table.Append([]string{strconv.FormatUint(uint64(h.UID), 10), strings.Join(parts, " ")})
	}
	table.Render()
	return nil
}

// evaluator turns a query tree into nested iterators.
type evaluator struct {
	src      fieldindex.Source
	types    model.TypeMetadata
	cfg      fieldq.IvaratorConfig
	provider *cachedir.Provider
	queryID  string
	scanID   string
	fsts     *fst.Manager
	logger   *fieldq.Logger
	lock     lock.QueryLock
	agg      []string
}

func (e *evaluator) build(ctx context.Context, q Query) (nested.Iterator, error) {
	switch {
	case q.Equals != nil:
		return fieldq.Cardinality(q.Equals.Field, q.Equals.Value).
			Source(e.src).
			TypeMetadata(e.types).
			Aggregate(e.agg...).
			Logger(e.logger).
			Build(ctx)

	case q.Range != nil:
		r := model.NewLiteralRange(q.Range.Field, q.Range.Lower, q.Range.LowerInclusive, q.Range.Upper, q.Range.UpperInclusive)
		return fieldq.Range(r).
			Source(e.src).
			Config(e.cfg).
			CacheProvider(e.provider).
			QueryID(e.queryID).
			ScanID(e.scanID).
			Lock(e.lock).
			TypeMetadata(e.types).
			Aggregate(e.agg...).
			Logger(e.logger).
			Build(ctx)

	case q.List != nil:
		vs := fieldq.Values(q.List.Values...)
		if q.List.FST != "" {
			vs = fieldq.FST(q.List.FST, q.List.Codec)
		}
		if q.List.Negated {
			vs = vs.Negated()
		}
		return fieldq.List(q.List.Field, vs).
			Source(e.src).
			Config(e.cfg).
			CacheProvider(e.provider).
			QueryID(e.queryID).
			ScanID(e.scanID).
			Lock(e.lock).
			FSTManager(e.fsts).
			TypeMetadata(e.types).
			Aggregate(e.agg...).
			Logger(e.logger).
			Build(ctx)

	case q.Prefix != nil:
		prefix := q.Prefix.Prefix
		r := model.NewLiteralRange(q.Prefix.Field, prefix, true, "", true)
		return fieldq.Filter(r, "prefix:"+prefix, func(v string) bool { return strings.HasPrefix(v, prefix) }).
			Source(e.src).
			Config(e.cfg).
			CacheProvider(e.provider).
			QueryID(e.queryID).
			ScanID(e.scanID).
			Lock(e.lock).
			TypeMetadata(e.types).
			Aggregate(e.agg...).
			Logger(e.logger).
			Build(ctx)

	case q.And != nil:
		includes, err := e.buildAll(ctx, q.And.Include)
		if err != nil {
			return nil, err
		}
		excludes, err := e.buildAll(ctx, q.And.Exclude)
		if err != nil {
			return nil, err
		}
		return fieldq.And().Include(includes...).Exclude(excludes...).Build()

	case len(q.Or) > 0:
		includes, err := e.buildAll(ctx, q.Or)
		if err != nil {
			return nil, err
		}
		return fieldq.Or().Include(includes...).Build()
	}
	return nil, fmt.Errorf("query node has no term")
}

func (e *evaluator) buildAll(ctx context.Context, qs []Query) ([]nested.Iterator, error) {
	its := make([]nested.Iterator, 0, len(qs))
	for _, q := range qs {
		it, err := e.build(ctx, q)
		if err != nil {
			for _, b := range its {
				_ = b.Close()
			}
			return nil, err
		}
		its = append(its, it)
	}
	return its, nil
}
