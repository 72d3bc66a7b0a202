package model

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// RowID is a dense, shard-local identifier for a record.
// Ascending RowID order is the global order of every iterator in a query tree.
type RowID uint32

// MaxRowID is the largest representable RowID.
const MaxRowID = RowID(^uint32(0))

// Entry is a single field-index key.
type Entry struct {
	Field    string
	Value    string
	Datatype string
	UID      RowID
	// Timestamp is the event time in milliseconds since the Unix epoch.
	Timestamp int64
}

// String returns a string representation of the Entry.
func (e Entry) String() string {
	return fmt.Sprintf("fi(%s:%s/%s/%d@%d)", e.Field, e.Value, e.Datatype, e.UID, e.Timestamp)
}

// LiteralRange is a bounded range of normalized values for a single field.
//
// Values compare lexicographically; callers normalize bounds before building
// a range. An empty Upper means the range is unbounded above.
type LiteralRange struct {
	Field          string
	Lower          string
	Upper          string
	LowerInclusive bool
	UpperInclusive bool
}

// NewLiteralRange creates a range over field.
func NewLiteralRange(field, lower string, lowerInclusive bool, upper string, upperInclusive bool) LiteralRange {
	return LiteralRange{
		Field:          field,
		Lower:          lower,
		Upper:          upper,
		LowerInclusive: lowerInclusive,
		UpperInclusive: upperInclusive,
	}
}

// Exact returns the single-value range [value, value].
func Exact(field, value string) LiteralRange {
	return NewLiteralRange(field, value, true, value, true)
}

// Unbounded returns a range covering every value of field.
func Unbounded(field string) LiteralRange {
	return NewLiteralRange(field, "", true, "", true)
}

// IsZero reports whether r is the zero range (no field set).
func (r LiteralRange) IsZero() bool {
	return r.Field == "" && r.Lower == "" && r.Upper == ""
}

// UnboundedAbove reports whether the range has no upper bound.
func (r LiteralRange) UnboundedAbove() bool {
	return r.Upper == ""
}

// Contains reports whether value lies inside the range.
func (r LiteralRange) Contains(value string) bool {
	if c := strings.Compare(value, r.Lower); c < 0 || (c == 0 && !r.LowerInclusive) {
		return false
	}
	if r.UnboundedAbove() {
		return true
	}
	c := strings.Compare(value, r.Upper)
	return c < 0 || (c == 0 && r.UpperInclusive)
}

// Below reports whether value sorts after the range's upper bound,
// meaning no later value in ascending order can match.
func (r LiteralRange) Below(value string) bool {
	if r.UnboundedAbove() {
		return false
	}
	c := strings.Compare(value, r.Upper)
	return c > 0 || (c == 0 && !r.UpperInclusive)
}

// String returns a string representation of the range.
func (r LiteralRange) String() string {
	lb, ub := "(", ")"
	if r.LowerInclusive {
		lb = "["
	}
	if r.UpperInclusive {
		ub = "]"
	}
	upper := r.Upper
	if r.UnboundedAbove() {
		upper = "+inf"
	}
	return fmt.Sprintf("%s%s%s,%s%s", r.Field, lb, r.Lower, upper, ub)
}

// TypeMetadata maps a field to the names of the normalization types applied to it.
// It is read-only once handed to a builder.
type TypeMetadata map[string][]string

// Types returns the normalization types registered for field.
func (tm TypeMetadata) Types(field string) []string {
	if tm == nil {
		return nil
	}
	return tm[field]
}

// Fingerprinter is implemented by filters and transforms whose behaviour is
// fully identified by a string. Ivarator cache directories are shared only
// between builds whose constraints all have equal fingerprints.
type Fingerprinter interface {
	Fingerprint() string
}

// Fingerprint returns the fingerprint of v, or false if v has none.
func Fingerprint(v any) (string, bool) {
	f, ok := v.(Fingerprinter)
	if !ok {
		return "", false
	}
	return f.Fingerprint(), true
}

// DatatypeFilter decides whether entries of a datatype are eligible.
type DatatypeFilter interface {
	Accept(datatype string) bool
}

// AllDatatypes accepts every datatype.
var AllDatatypes DatatypeFilter = allDatatypes{}

type allDatatypes struct{}

func (allDatatypes) Accept(string) bool  { return true }
func (allDatatypes) Fingerprint() string { return "datatypes:*" }

// DatatypeSet accepts only the datatypes it contains.
type DatatypeSet map[string]struct{}

// NewDatatypeSet creates a DatatypeSet from the given datatypes.
func NewDatatypeSet(datatypes ...string) DatatypeSet {
	s := make(DatatypeSet, len(datatypes))
	for _, dt := range datatypes {
		s[dt] = struct{}{}
	}
	return s
}

// Accept implements DatatypeFilter.
func (s DatatypeSet) Accept(datatype string) bool {
	_, ok := s[datatype]
	return ok
}

// Fingerprint implements Fingerprinter.
func (s DatatypeSet) Fingerprint() string {
	return "datatypes:" + strings.Join(slices.Sorted(maps.Keys(s)), ",")
}

// TimeFilter decides whether an entry timestamp is eligible.
type TimeFilter interface {
	Accept(ts int64) bool
}

// AllTime accepts every timestamp.
var AllTime TimeFilter = allTime{}

type allTime struct{}

func (allTime) Accept(int64) bool    { return true }
func (allTime) Fingerprint() string { return "time:*" }

// TimeRange accepts timestamps in [Begin, End] (milliseconds, inclusive).
type TimeRange struct {
	Begin int64
	End   int64
}

// Accept implements TimeFilter.
func (tr TimeRange) Accept(ts int64) bool {
	return ts >= tr.Begin && ts <= tr.End
}

// Fingerprint implements Fingerprinter.
func (tr TimeRange) Fingerprint() string {
	return fmt.Sprintf("time:%d-%d", tr.Begin, tr.End)
}

// KeyTransform rewrites an accepted field-index entry before it is buffered,
// e.g. to map a child record onto its parent UID.
type KeyTransform interface {
	Transform(e Entry) Entry
}

// KeyTransformFunc adapts a function to KeyTransform.
type KeyTransformFunc func(e Entry) Entry

// Transform implements KeyTransform.
func (f KeyTransformFunc) Transform(e Entry) Entry { return f(e) }

// IdentityTransform returns entries unchanged.
var IdentityTransform KeyTransform = NamedTransform("identity", func(e Entry) Entry { return e })

// NamedTransform returns a KeyTransform identified by name. Transforms with
// equal names must behave identically.
func NamedTransform(name string, fn func(e Entry) Entry) KeyTransform {
	return namedTransform{name: name, fn: fn}
}

type namedTransform struct {
	name string
	fn   func(e Entry) Entry
}

func (t namedTransform) Transform(e Entry) Entry { return t.fn(e) }
func (t namedTransform) Fingerprint() string     { return "transform:" + t.name }

// Attribute is one materialized field value of a document.
type Attribute struct {
	Value     string
	Datatype  string
	Timestamp int64
	// Types are the normalization types of the field, from TypeMetadata.
	Types []string
}

// Document holds the aggregated attributes of one UID keyed by field name.
type Document map[string][]Attribute

// Merge adds all attributes of other into d, skipping duplicate values.
// A nil d is not valid; use MergeDocuments to combine possibly-nil documents.
func (d Document) Merge(other Document) {
	for field, attrs := range other {
		existing := d[field]
		for _, a := range attrs {
			if !slices.ContainsFunc(existing, func(x Attribute) bool {
				return x.Value == a.Value && x.Datatype == a.Datatype
			}) {
				existing = append(existing, a)
			}
		}
		d[field] = existing
	}
}

// MergeDocuments combines documents, returning nil if all are empty.
func MergeDocuments(docs ...Document) Document {
	var out Document
	for _, d := range docs {
		if len(d) == 0 {
			continue
		}
		if out == nil {
			out = make(Document, len(d))
		}
		out.Merge(d)
	}
	return out
}

// Values returns the attribute values recorded for field, in insertion order.
func (d Document) Values(field string) []string {
	attrs := d[field]
	if len(attrs) == 0 {
		return nil
	}
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Value
	}
	return out
}
