package scanner

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hupe1980/fieldq/cachedir"
	"github.com/hupe1980/fieldq/fst"
	"github.com/hupe1980/fieldq/internal/hash"
	"github.com/hupe1980/fieldq/model"
)

func listKey(prefix string, negated bool, id string) string {
	if negated {
		prefix = "!" + prefix
	}
	return prefix + ":" + id
}

// NewList creates an ivarator over field entries whose value is in values,
// or not in values when negated. Only membership matters: the order of values
// does not change the result.
func NewList(loc *cachedir.Location, field string, values []string, negated bool, opts Options) *Ivarator {
	set := slices.Clone(values)
	slices.Sort(set)
	set = slices.Compact(set)

	members := make(map[string]struct{}, len(set))
	for _, v := range set {
		members[v] = struct{}{}
	}
	key := listKey("list", negated, fmt.Sprintf("%d-%08x", len(set), hash.CRC32CString(strings.Join(set, "\x00"))))

	if negated {
		return newIvarator(field, term{
			kind:  "list",
			units: []model.LiteralRange{model.Unbounded(field)},
			accept: func(v string) (bool, error) {
				_, ok := members[v]
				return !ok, nil
			},
			key: key,
		}, loc, opts)
	}

	units := make([]model.LiteralRange, 0, len(set))
	for _, v := range set {
		units = append(units, model.Exact(field, v))
	}
	return newIvarator(field, term{
		kind:  "list",
		units: units,
		accept: func(v string) (bool, error) {
			// Exact("") is unbounded above, so membership is checked again.
			_, ok := members[v]
			return ok, nil
		},
		key: key,
	}, loc, opts)
}

// NewFSTList creates an ivarator over field entries whose value is accepted
// by set, or rejected by it when negated. uri identifies the set.
func NewFSTList(loc *cachedir.Location, field string, set *fst.Set, uri string, negated bool, opts Options) (*Ivarator, error) {
	r := model.Unbounded(field)
	if !negated {
		lo, hi, err := set.Bounds()
		if err != nil {
			return nil, fmt.Errorf("fst bounds %s: %w", uri, err)
		}
		r = model.NewLiteralRange(field, lo, true, hi, true)
		if set.Len() == 0 {
			r = model.Exact(field, "\x00")
		}
	}
	return newIvarator(field, term{
		kind:  "list",
		units: []model.LiteralRange{r},
		accept: func(v string) (bool, error) {
			ok, err := set.Contains(v)
			if err != nil {
				return false, err
			}
			return ok != negated, nil
		},
		key: listKey("fst", negated, uri),
	}, loc, opts), nil
}
