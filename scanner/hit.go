package scanner

import (
	"context"

	"github.com/hupe1980/fieldq/fieldindex"
	"github.com/hupe1980/fieldq/model"
)

// Hit is one result of a scanner: a UID and the matching field-index
// entries for it. In field-index order every Hit holds exactly one entry.
type Hit struct {
	UID     model.RowID
	Entries []model.Entry
}

// Scanner is a per-term field-index engine.
//
// Init must be called exactly once before iteration. Results are
// forward-only; Seek moves to the first hit at or after the current
// position whose UID is >= target.
type Scanner interface {
	// Field returns the field the scanner evaluates.
	Field() string
	// Init evaluates the term against src.
	Init(ctx context.Context, src fieldindex.Source) error
	// Next advances to the next hit.
	Next(ctx context.Context) bool
	// Seek advances to the first hit with UID >= target.
	Seek(ctx context.Context, target model.RowID) bool
	// Hit returns the current hit.
	Hit() Hit
	// Err returns the first error encountered.
	Err() error
	// Close releases resources.
	Close() error
}
