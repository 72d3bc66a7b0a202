// Package scanner implements the per-term field-index scanning engines.
//
// [Equality] evaluates a single-value term entirely in memory. The ivarators
// ([NewRange], [NewList], [NewFSTList], [NewFilter]) share one population
// core that can spill to a cache directory:
//
//  1. Acquire the query lock, if any, for the duration of population.
//  2. Reuse the cache directory if a previous population completed it.
//  3. Split the scan into at most MaxRangeSplit units and scan them in
//     parallel, bounded by ScanTimeout.
//  4. Filter every entry by time, datatype and term predicate, apply the key
//     transform, and buffer it. Once more than PersistThreshold rows were
//     accepted, buffers of BufferSize rows are written as sorted runs.
//  5. Compact the runs until at most MaxOpenFiles remain, write the
//     completion marker and merge the runs lazily.
//
// Results are ordered by UID (values grouped per UID) when SortedUIDs is set,
// and in field-index order (value, UID) otherwise.
package scanner
