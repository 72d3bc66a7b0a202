// Package fieldq builds the per-term iterators of a field-index query.
//
// A query over a sharded field index is a tree of terms. Each leaf evaluates
// one field against the index and yields ascending UIDs; And and Or nodes
// combine leaves lazily.
//
// # Quick Start
//
//	src := fieldindex.NewMemorySource(entries...)
//
//	names, _ := fieldq.List("FIRST_NAME", fieldq.Values("bob", "eve")).
//	    Source(src).
//	    CacheDir("s3://bucket/ivarators").
//	    Build(ctx)
//
//	sizes, _ := fieldq.Range(model.NewLiteralRange("MSG_SIZE", "05", true, "10", false)).
//	    Source(src).
//	    CacheDir("s3://bucket/ivarators").
//	    Build(ctx)
//
//	it, _ := fieldq.And().Include(names, sizes).Build()
//	for it.Next(ctx) {
//	    fmt.Println(it.UID())
//	}
//
// # Terms
//
//   - Cardinality: field == value, evaluated in memory
//   - Range: a bounded literal range
//   - List: membership in an explicit value set or an FST, optionally negated
//   - Filter: a range narrowed by a predicate
//
// # Ivarators
//
// Range, List and Filter terms are ivarators. Once a term accepts more rows
// than its persist threshold it writes sorted, compressed runs into a cache
// directory (local path, file://, mem://, s3:// or minio://), compacts them
// so that at most MaxOpenFiles stay open, and merges them lazily. A completed
// directory carries a DONE marker and is reused by later builds of the same
// term and query ID. Cache directories are never removed by this package.
//
// # Documents
//
// A term aggregates its values into documents when its field is listed via
// Aggregate or IndexOnly, or when ForceDocumentBuild is set.
package fieldq
