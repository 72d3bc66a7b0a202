package fieldindex

import (
	"context"

	"github.com/hupe1980/fieldq/model"
)

// Source is a sorted field-index scan source for one shard range.
// Implementations must be safe for concurrent use; every Scan returns an
// independent cursor.
type Source interface {
	// Scan returns a cursor over the entries of r.Field whose values lie in r,
	// ordered by (Value, Datatype, UID).
	Scan(ctx context.Context, r model.LiteralRange) (Cursor, error)
}

// Cursor is a forward-only view over field-index entries.
type Cursor interface {
	// Next advances to the next entry. It returns false when the cursor is
	// exhausted or failed; check Err to distinguish.
	Next() bool
	// Entry returns the current entry. Only valid after Next returned true.
	Entry() model.Entry
	// Err returns the first error encountered, if any.
	Err() error
	// Close releases the cursor.
	Close() error
}

// Splitter is an optional Source extension used to partition a range so that
// cache population can run in parallel.
type Splitter interface {
	// SplitPoints returns at most n-1 strictly ascending values inside r that
	// divide it into sub-ranges of roughly equal entry count.
	SplitPoints(ctx context.Context, r model.LiteralRange, n int) ([]string, error)
}

// SplitRange cuts r at the given ascending points. Each point becomes the
// inclusive lower bound of the next sub-range.
func SplitRange(r model.LiteralRange, points []string) []model.LiteralRange {
	if len(points) == 0 {
		return []model.LiteralRange{r}
	}

	out := make([]model.LiteralRange, 0, len(points)+1)
	lower, lowerInc := r.Lower, r.LowerInclusive
	for _, p := range points {
		if !r.Contains(p) || p == lower {
			continue
		}
		out = append(out, model.LiteralRange{
			Field:          r.Field,
			Lower:          lower,
			LowerInclusive: lowerInc,
			Upper:          p,
			UpperInclusive: false,
		})
		lower, lowerInc = p, true
	}
	out = append(out, model.LiteralRange{
		Field:          r.Field,
		Lower:          lower,
		LowerInclusive: lowerInc,
		Upper:          r.Upper,
		UpperInclusive: r.UpperInclusive,
	})
	return out
}
