// Package fst loads and builds finite-state transducers that encode large
// value sets for list terms.
//
// An FST is stored as a single blob, optionally compressed as a whole with
// zstd or lz4. The Manager caches decoded FSTs in an LRU keyed by URI and
// codec, and collapses concurrent loads of the same FST into one read.
//
//	m := fst.NewManager(fst.WithCacheSize(32))
//	set, err := m.Load(ctx, "s3://bucket/lists/names.fst", "zstd")
//	ok, err := set.Contains("bob")
package fst
