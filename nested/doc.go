// Package nested composes per-term iterators into boolean query trees.
//
// Every iterator is forward-only and yields ascending UIDs. And intersects
// its includes and removes UIDs present in any exclude; Or unions its
// includes. Both evaluate lazily: children advance only as far as the
// consumer asks.
package nested
