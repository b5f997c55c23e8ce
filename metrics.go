package lexicore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    ingestCounter   prometheus.Counter
//	    buildHistogram  prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordIngest(docs, committed, failed int, duration time.Duration) {
//	    p.ingestCounter.Add(float64(committed))
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordIngest is called after each ingestion run.
	RecordIngest(docs, committed, failed int, duration time.Duration)

	// RecordLookup is called after each headword lookup.
	// err is nil if the headword was found.
	RecordLookup(duration time.Duration, err error)

	// RecordCorrection is called after each processed correction task.
	RecordCorrection(duration time.Duration, err error)

	// RecordBuild is called after each artifact build.
	// entries is the number of entries materialized.
	RecordBuild(kind string, entries int, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(int, int, int, time.Duration)       {}
func (NoopMetricsCollector) RecordLookup(time.Duration, error)               {}
func (NoopMetricsCollector) RecordCorrection(time.Duration, error)           {}
func (NoopMetricsCollector) RecordBuild(string, int, time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestRuns        atomic.Int64
	IngestDocs        atomic.Int64
	IngestCommitted   atomic.Int64
	IngestFailed      atomic.Int64
	IngestTotalNanos  atomic.Int64
	LookupCount       atomic.Int64
	LookupMisses      atomic.Int64
	CorrectionCount   atomic.Int64
	CorrectionErrors  atomic.Int64
	BuildCount        atomic.Int64
	BuildErrors       atomic.Int64
	BuildEntries      atomic.Int64
	BuildTotalNanos   atomic.Int64
}

// RecordIngest implements MetricsCollector.
func (b *BasicMetricsCollector) RecordIngest(docs, committed, failed int, duration time.Duration) {
	b.IngestRuns.Add(1)
	b.IngestDocs.Add(int64(docs))
	b.IngestCommitted.Add(int64(committed))
	b.IngestFailed.Add(int64(failed))
	b.IngestTotalNanos.Add(duration.Nanoseconds())
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(duration time.Duration, err error) {
	b.LookupCount.Add(1)
	if err != nil {
		b.LookupMisses.Add(1)
	}
}

// RecordCorrection implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCorrection(duration time.Duration, err error) {
	b.CorrectionCount.Add(1)
	if err != nil {
		b.CorrectionErrors.Add(1)
	}
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(kind string, entries int, duration time.Duration, err error) {
	b.BuildCount.Add(1)
	b.BuildEntries.Add(int64(entries))
	b.BuildTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.BuildErrors.Add(1)
	}
}
