// Package aggregate decides whether a scanner's matching values are
// materialized into documents.
package aggregate

import (
	"github.com/hupe1980/fieldq/model"
	"github.com/hupe1980/fieldq/scanner"
)

// Iterator wraps a scanner and, when aggregating, exposes the current hit as
// a document.
type Iterator struct {
	scanner.Scanner
	aggregate bool
	types     model.TypeMetadata
}

// New wraps s. types may be nil.
func New(s scanner.Scanner, aggregate bool, types model.TypeMetadata) *Iterator {
	return &Iterator{Scanner: s, aggregate: aggregate, types: types}
}

// Aggregating reports whether documents are built for this field.
func (it *Iterator) Aggregating() bool { return it.aggregate }

// Document returns the attributes of the current hit, or nil when not
// aggregating.
func (it *Iterator) Document() model.Document {
	if !it.aggregate {
		return nil
	}
	hit := it.Hit()
	if len(hit.Entries) == 0 {
		return nil
	}
	doc := make(model.Document, 1)
	for _, e := range hit.Entries {
		field := e.Field
		if field == "" {
			field = it.Field()
		}
		doc.Merge(model.Document{field: {{
			Value:     e.Value,
			Datatype:  e.Datatype,
			Timestamp: e.Timestamp,
			Types:     it.types.Types(field),
		}}})
	}
	return doc
}
