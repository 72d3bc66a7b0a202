// Package fieldindex defines the sorted field-index scan contract consumed by
// the term scanners.
//
// A field index maps (field, value) to the UIDs of the records containing that
// value. A Source scans one field over a value range and yields entries ordered
// by (value, datatype, UID):
//
//	cur, err := src.Scan(ctx, model.NewLiteralRange("MSG_SIZE", "5", true, "10", false))
//	for cur.Next() {
//	    e := cur.Entry()
//	    ...
//	}
//	err = cur.Err()
//
// Sources that can estimate their value distribution implement Splitter, which
// lets ivarators partition a range and populate their caches in parallel.
//
// MemorySource is the built-in implementation used by tests and the fieldq CLI.
package fieldindex
