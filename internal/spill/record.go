package spill

import (
	"cmp"
	"slices"
	"strings"

	"github.com/hupe1980/fieldq/model"
)

// Record is one spilled field-index hit. The field is implied by the run.
type Record struct {
	UID       model.RowID
	Value     string
	Datatype  string
	Timestamp int64
}

// Order is the sort order of a run.
type Order uint8

const (
	// ByUID orders by (UID, Value, Datatype, Timestamp).
	ByUID Order = iota
	// ByValue orders by (Value, Datatype, UID, Timestamp), the field-index order.
	ByValue
)

// Compare orders a and b according to o.
func (o Order) Compare(a, b Record) int {
	if o == ByUID {
		if c := cmp.Compare(a.UID, b.UID); c != 0 {
			return c
		}
	}
	if c := strings.Compare(a.Value, b.Value); c != 0 {
		return c
	}
	if c := strings.Compare(a.Datatype, b.Datatype); c != 0 {
		return c
	}
	if o == ByValue {
		if c := cmp.Compare(a.UID, b.UID); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Timestamp, b.Timestamp)
}

// SortUnique sorts records in place by o and drops exact duplicates.
func SortUnique(records []Record, o Order) []Record {
	slices.SortFunc(records, o.Compare)
	return slices.Compact(records)
}
