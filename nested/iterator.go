package nested

import (
	"context"

	"github.com/hupe1980/fieldq/aggregate"
	"github.com/hupe1980/fieldq/model"
)

// Iterator is a forward-only iterator over ascending UIDs.
type Iterator interface {
	// Next advances to the next UID.
	Next(ctx context.Context) bool
	// Seek advances to the first UID >= target. It never moves backwards.
	Seek(ctx context.Context, target model.RowID) bool
	// UID returns the current UID.
	UID() model.RowID
	// Document returns the aggregated attributes of the current UID, or nil.
	Document() model.Document
	// Fields returns the fields evaluated by the iterator tree.
	Fields() []string
	Err() error
	Close() error
}

// Bridge adapts an initialized aggregating scanner to Iterator.
type Bridge struct {
	it *aggregate.Iterator
}

var _ Iterator = (*Bridge)(nil)

// NewBridge wraps it. it must already be initialized.
func NewBridge(it *aggregate.Iterator) *Bridge {
	return &Bridge{it: it}
}

// Aggregating reports whether the wrapped term builds documents.
func (b *Bridge) Aggregating() bool { return b.it.Aggregating() }

// Unwrap returns the wrapped aggregate iterator.
func (b *Bridge) Unwrap() *aggregate.Iterator { return b.it }

func (b *Bridge) Next(ctx context.Context) bool { return b.it.Next(ctx) }

func (b *Bridge) Seek(ctx context.Context, target model.RowID) bool {
	return b.it.Seek(ctx, target)
}

func (b *Bridge) UID() model.RowID         { return b.it.Hit().UID }
func (b *Bridge) Document() model.Document { return b.it.Document() }
func (b *Bridge) Fields() []string         { return []string{b.it.Field()} }
func (b *Bridge) Err() error               { return b.it.Err() }
func (b *Bridge) Close() error             { return b.it.Close() }
