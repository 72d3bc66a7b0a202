package fieldq

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/fieldq/scanner"
)

// TimingCollector receives cache population timings from ivarators.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    populateHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordPopulate(field string, rows int64, spilled bool, d time.Duration, err error) {
//	    p.populateHistogram.Observe(d.Seconds())
//	}
type TimingCollector = scanner.TimingCollector

// NoopTimingCollector is a no-op implementation of TimingCollector.
type NoopTimingCollector struct{}

func (NoopTimingCollector) RecordPopulate(string, int64, bool, time.Duration, error) {}
func (NoopTimingCollector) RecordSpill(string, int, time.Duration)                   {}
func (NoopTimingCollector) RecordCompaction(string, int, int, time.Duration)         {}
func (NoopTimingCollector) RecordCacheReuse(string)                                  {}

// BasicTimingCollector provides simple in-memory timing collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicTimingCollector struct {
	PopulateCount      atomic.Int64
	PopulateErrors     atomic.Int64
	PopulateRows       atomic.Int64
	PopulateTotalNanos atomic.Int64
	SpilledTerms       atomic.Int64
	SpillRuns          atomic.Int64
	SpillRecords       atomic.Int64
	SpillTotalNanos    atomic.Int64
	CompactionPasses   atomic.Int64
	CompactionMerged   atomic.Int64
	CacheReuses        atomic.Int64
}

var _ TimingCollector = (*BasicTimingCollector)(nil)

// RecordPopulate implements TimingCollector.
func (b *BasicTimingCollector) RecordPopulate(_ string, rows int64, spilled bool, duration time.Duration, err error) {
	b.PopulateCount.Add(1)
	b.PopulateRows.Add(rows)
	b.PopulateTotalNanos.Add(duration.Nanoseconds())
	if spilled {
		b.SpilledTerms.Add(1)
	}
	if err != nil {
		b.PopulateErrors.Add(1)
	}
}

// RecordSpill implements TimingCollector.
func (b *BasicTimingCollector) RecordSpill(_ string, records int, duration time.Duration) {
	b.SpillRuns.Add(1)
	b.SpillRecords.Add(int64(records))
	b.SpillTotalNanos.Add(duration.Nanoseconds())
}

// RecordCompaction implements TimingCollector.
func (b *BasicTimingCollector) RecordCompaction(_ string, passes, merged int, _ time.Duration) {
	b.CompactionPasses.Add(int64(passes))
	b.CompactionMerged.Add(int64(merged))
}

// RecordCacheReuse implements TimingCollector.
func (b *BasicTimingCollector) RecordCacheReuse(string) {
	b.CacheReuses.Add(1)
}

// GetStats returns a snapshot of current timings.
func (b *BasicTimingCollector) GetStats() BasicTimingStats {
	return BasicTimingStats{
		PopulateCount:    b.PopulateCount.Load(),
		PopulateErrors:   b.PopulateErrors.Load(),
		PopulateRows:     b.PopulateRows.Load(),
		PopulateAvgNanos: avg(b.PopulateTotalNanos.Load(), b.PopulateCount.Load()),
		SpilledTerms:     b.SpilledTerms.Load(),
		SpillRuns:        b.SpillRuns.Load(),
		SpillRecords:     b.SpillRecords.Load(),
		SpillAvgNanos:    avg(b.SpillTotalNanos.Load(), b.SpillRuns.Load()),
		CompactionPasses: b.CompactionPasses.Load(),
		CompactionMerged: b.CompactionMerged.Load(),
		CacheReuses:      b.CacheReuses.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicTimingStats is a snapshot of BasicTimingCollector state.
type BasicTimingStats struct {
	PopulateCount    int64
	PopulateErrors   int64
	PopulateRows     int64
	PopulateAvgNanos int64
	SpilledTerms     int64
	SpillRuns        int64
	SpillRecords     int64
	SpillAvgNanos    int64
	CompactionPasses int64
	CompactionMerged int64
	CacheReuses      int64
}
