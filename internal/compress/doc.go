// Package compress provides the block and payload compression used by spill
// runs and FST files.
//
// Three algorithms are supported and addressed by a stable name:
//
//	none   no compression
//	lz4    LZ4 (fast, good for short-lived spill runs)
//	zstd   Zstandard (better ratio, good for FSTs shipped between hosts)
//
// Blocks carry an 8-byte header [UncompressedSize uint32][CompressedSize uint32];
// CompressedSize == 0 means the block is stored uncompressed because
// compression did not help.
package compress
