// Package spill implements the sorted run files an ivarator writes to its
// cache directory once a term outgrows memory.
//
// # Run Format
//
//	┌──────────────────────────────────────────────┐
//	│ Header: "FQSR" | version | codec | order | 0 │  8 bytes
//	├──────────────────────────────────────────────┤
//	│ Frame: [CRC32C uint32][compressed block]     │  repeated
//	├──────────────────────────────────────────────┤
//	│ End: 12 zero bytes | record count uint64     │
//	└──────────────────────────────────────────────┘
//
// Records inside a block are delta encoded: the UID and timestamp as zigzag
// varints relative to the previous record, the value with a shared-prefix
// length. Every block decodes independently.
//
// # Merging
//
// Runs are merged with a k-way heap. When more runs exist than the open-file
// budget allows, Compact merges them in passes until at most MaxOpenFiles
// remain; every reader and writer holds a file slot from the resource
// controller while it is open.
package spill
