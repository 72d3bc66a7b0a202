package nested

import (
	"container/heap"
	"context"
	"slices"

	"github.com/hupe1980/fieldq/model"
)

type uidHeap []Iterator

func (h uidHeap) Len() int           { return len(h) }
func (h uidHeap) Less(i, j int) bool { return h[i].UID() < h[j].UID() }
func (h uidHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *uidHeap) Push(x any)        { *h = append(*h, x.(Iterator)) }
func (h *uidHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Or yields the UIDs present in any include, each once.
type Or struct {
	includes []Iterator
	h        uidHeap
	started  bool
	done     bool
	cur      model.RowID
	err      error
}

var _ Iterator = (*Or)(nil)

// NewOr creates a union. includes must not be empty.
func NewOr(includes []Iterator) (*Or, error) {
	if len(includes) == 0 {
		return nil, ErrNoIncludes
	}
	return &Or{includes: includes}, nil
}

// push re-adds it when ok; otherwise it is dropped and its error recorded.
func (o *Or) push(it Iterator, ok bool) bool {
	if ok {
		heap.Push(&o.h, it)
		return true
	}
	if err := it.Err(); err != nil {
		o.err, o.done = err, true
		return false
	}
	return true
}

func (o *Or) start(step func(Iterator) bool) bool {
	o.started = true
	o.h = make(uidHeap, 0, len(o.includes))
	for _, it := range o.includes {
		if !o.push(it, step(it)) {
			return false
		}
	}
	return o.settle()
}

func (o *Or) settle() bool {
	if o.done {
		return false
	}
	if o.h.Len() == 0 {
		o.done = true
		return false
	}
	o.cur = o.h[0].UID()
	return true
}

// Next implements Iterator.
func (o *Or) Next(ctx context.Context) bool {
	if o.done {
		return false
	}
	if !o.started {
		return o.start(func(it Iterator) bool { return it.Next(ctx) })
	}
	for o.h.Len() > 0 && o.h[0].UID() == o.cur {
		it := heap.Pop(&o.h).(Iterator)
		if !o.push(it, it.Next(ctx)) {
			return false
		}
	}
	return o.settle()
}

// Seek implements Iterator.
func (o *Or) Seek(ctx context.Context, target model.RowID) bool {
	if o.done {
		return false
	}
	if !o.started {
		return o.start(func(it Iterator) bool { return it.Seek(ctx, target) })
	}
	for o.h.Len() > 0 && o.h[0].UID() < target {
		it := heap.Pop(&o.h).(Iterator)
		if !o.push(it, it.Seek(ctx, target)) {
			return false
		}
	}
	return o.settle()
}

// UID implements Iterator.
func (o *Or) UID() model.RowID { return o.cur }

// Document merges the documents of every include positioned on the current UID.
func (o *Or) Document() model.Document {
	var docs []model.Document
	for _, it := range o.h {
		if it.UID() == o.cur {
			docs = append(docs, it.Document())
		}
	}
	return model.MergeDocuments(docs...)
}

// Fields returns the union of the include fields.
func (o *Or) Fields() []string {
	var out []string
	for _, it := range o.includes {
		for _, f := range it.Fields() {
			if !slices.Contains(out, f) {
				out = append(out, f)
			}
		}
	}
	return out
}

// Err implements Iterator.
func (o *Or) Err() error { return o.err }

// Close closes all includes.
func (o *Or) Close() error { return closeAll(o.includes) }
