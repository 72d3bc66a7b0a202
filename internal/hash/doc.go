// Package hash provides fast, hardware-accelerated hashing utilities for data integrity.
//
// # CRC32-Castagnoli (CRC32C)
//
// All checksums in fieldq use CRC32-Castagnoli (CRC32C):
//
//   - spill run blocks carry a CRC32C trailer verified on read
//   - per-term cache subdirectories are named after the CRC32C of the term
//   - S3 puts send a CRC32C checksum header
//
// # Usage
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	checksum := h.Sum32()
package hash
