// Package model defines core types used throughout fieldq.
//
// # Identity Types
//
//   - RowID: Shard-local record identifier (uint32), the UID merged across terms
//   - Entry: One field-index key (field, value, datatype, UID, timestamp)
//
// # Term Types
//
//   - LiteralRange: Immutable bounded value range for a field
//   - TypeMetadata: Field to normalization-type mapping
//
// # Call-time Constraints
//
//   - DatatypeFilter: Accepts or rejects an entry's datatype
//   - TimeFilter: Accepts or rejects an entry's timestamp
//   - KeyTransform: Rewrites an accepted entry before it is buffered
//
// Constraints are opaque to the builders and passed through unchanged to the
// scanners that evaluate them.
//
// # Documents
//
// Aggregated field values are returned as a Document, a map from field name to
// the Attributes seen for the current UID:
//
//	doc := it.Document()
//	for _, attr := range doc["FIRST_NAME"] {
//	    fmt.Println(attr.Value, attr.Types)
//	}
package model
