package scanner

import (
	"github.com/hupe1980/fieldq/cachedir"
	"github.com/hupe1980/fieldq/model"
)

// NewRange creates an ivarator over every value of r.Field inside r.
func NewRange(loc *cachedir.Location, r model.LiteralRange, opts Options) *Ivarator {
	return newIvarator(r.Field, term{
		kind:  "range",
		units: []model.LiteralRange{r},
		key:   "range:" + r.String(),
	}, loc, opts)
}

// Predicate narrows the values of a filter term.
type Predicate func(value string) bool

// NewFilter creates an ivarator over the values of r accepted by pred.
// name identifies the predicate in the cache directory marker.
func NewFilter(loc *cachedir.Location, r model.LiteralRange, name string, pred Predicate, opts Options) *Ivarator {
	return newIvarator(r.Field, term{
		kind:  "filter",
		units: []model.LiteralRange{r},
		accept: func(v string) (bool, error) {
			return pred(v), nil
		},
		key: "filter:" + r.String() + ":" + name,
	}, loc, opts)
}
