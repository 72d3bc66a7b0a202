package nested

import (
	"context"
	"errors"
	"slices"

	"github.com/hupe1980/fieldq/model"
)

// ErrNoIncludes is returned when a boolean node has nothing to iterate.
var ErrNoIncludes = errors.New("nested: at least one include is required")

// And yields the UIDs present in every include and in no exclude.
type And struct {
	includes []Iterator
	excludes []Iterator
	// exDone marks exhausted excludes.
	exDone  []bool
	started bool
	done    bool
	cur     model.RowID
	err     error
}

var _ Iterator = (*And)(nil)

// NewAnd creates an intersection. includes must not be empty.
func NewAnd(includes, excludes []Iterator) (*And, error) {
	if len(includes) == 0 {
		return nil, ErrNoIncludes
	}
	return &And{
		includes: includes,
		excludes: excludes,
		exDone:   make([]bool, len(excludes)),
	}, nil
}

func (a *And) fail(it Iterator) bool {
	a.done = true
	a.err = it.Err()
	return false
}

// Next implements Iterator.
func (a *And) Next(ctx context.Context) bool {
	if a.done {
		return false
	}
	if !a.started {
		a.started = true
		for _, it := range a.includes {
			if !it.Next(ctx) {
				return a.fail(it)
			}
		}
	} else if !a.includes[0].Next(ctx) {
		return a.fail(a.includes[0])
	}
	return a.align(ctx)
}

// Seek implements Iterator.
func (a *And) Seek(ctx context.Context, target model.RowID) bool {
	if a.done {
		return false
	}
	if a.started && a.cur >= target {
		return true
	}
	a.started = true
	for _, it := range a.includes {
		if !it.Seek(ctx, target) {
			return a.fail(it)
		}
	}
	return a.align(ctx)
}

// align leapfrogs the includes to a common UID not present in any exclude.
func (a *And) align(ctx context.Context) bool {
	for {
		target := a.includes[0].UID()
		for _, it := range a.includes[1:] {
			target = max(target, it.UID())
		}

		agreed := true
		for _, it := range a.includes {
			if it.UID() == target {
				continue
			}
			if !it.Seek(ctx, target) {
				return a.fail(it)
			}
			if it.UID() != target {
				agreed = false
				break
			}
		}
		if !agreed {
			continue
		}

		excluded, err := a.excluded(ctx, target)
		if err != nil {
			a.done, a.err = true, err
			return false
		}
		if !excluded {
			a.cur = target
			return true
		}
		if !a.includes[0].Next(ctx) {
			return a.fail(a.includes[0])
		}
	}
}

func (a *And) excluded(ctx context.Context, uid model.RowID) (bool, error) {
	for i, ex := range a.excludes {
		if a.exDone[i] {
			continue
		}
		if !ex.Seek(ctx, uid) {
			if err := ex.Err(); err != nil {
				return false, err
			}
			a.exDone[i] = true
			continue
		}
		if ex.UID() == uid {
			return true, nil
		}
	}
	return false, nil
}

// UID implements Iterator.
func (a *And) UID() model.RowID { return a.cur }

// Document merges the documents of the includes.
func (a *And) Document() model.Document {
	docs := make([]model.Document, 0, len(a.includes))
	for _, it := range a.includes {
		docs = append(docs, it.Document())
	}
	return model.MergeDocuments(docs...)
}

// Fields returns the include fields followed by the exclude fields.
func (a *And) Fields() []string {
	var out []string
	for _, it := range slices.Concat(a.includes, a.excludes) {
		for _, f := range it.Fields() {
			if !slices.Contains(out, f) {
				out = append(out, f)
			}
		}
	}
	return out
}

// Err implements Iterator.
func (a *And) Err() error { return a.err }

// Close closes all children.
func (a *And) Close() error {
	return closeAll(slices.Concat(a.includes, a.excludes))
}

func closeAll(its []Iterator) error {
	var errs []error
	for _, it := range its {
		errs = append(errs, it.Close())
	}
	return errors.Join(errs...)
}
