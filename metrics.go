package imgmatch

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// metrics/prometheus package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordAddImage is called after each AddImage or AddHash.
	RecordAddImage(duration time.Duration, err error)

	// RecordMatch is called after each match. results is the size of the
	// final result set.
	RecordMatch(duration time.Duration, results int, err error)

	// RecordRemoveImage is called after each RemoveImage.
	RecordRemoveImage(found bool)

	// RecordSave is called after each snapshot save with the snapshot size.
	RecordSave(duration time.Duration, bytes int64, err error)

	// RecordLoad is called after each snapshot load with the restored item count.
	RecordLoad(duration time.Duration, items int, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAddImage(time.Duration, error)    {}
func (NoopMetricsCollector) RecordMatch(time.Duration, int, error)  {}
func (NoopMetricsCollector) RecordRemoveImage(bool)                 {}
func (NoopMetricsCollector) RecordSave(time.Duration, int64, error) {}
func (NoopMetricsCollector) RecordLoad(time.Duration, int, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount        atomic.Int64
	AddErrors       atomic.Int64
	AddTotalNanos   atomic.Int64
	MatchCount      atomic.Int64
	MatchErrors     atomic.Int64
	MatchTotalNanos atomic.Int64
	MatchResults    atomic.Int64
	RemoveCount     atomic.Int64
	RemoveMisses    atomic.Int64
	SaveCount       atomic.Int64
	SaveErrors      atomic.Int64
	SaveBytes       atomic.Int64
	LoadCount       atomic.Int64
	LoadErrors      atomic.Int64
}

// RecordAddImage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAddImage(duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordMatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMatch(duration time.Duration, results int, err error) {
	b.MatchCount.Add(1)
	b.MatchTotalNanos.Add(duration.Nanoseconds())
	b.MatchResults.Add(int64(results))
	if err != nil {
		b.MatchErrors.Add(1)
	}
}

// RecordRemoveImage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemoveImage(found bool) {
	b.RemoveCount.Add(1)
	if !found {
		b.RemoveMisses.Add(1)
	}
}

// RecordSave implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSave(_ time.Duration, bytes int64, err error) {
	b.SaveCount.Add(1)
	b.SaveBytes.Add(bytes)
	if err != nil {
		b.SaveErrors.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(_ time.Duration, _ int, err error) {
	b.LoadCount.Add(1)
	if err != nil {
		b.LoadErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:      b.AddCount.Load(),
		AddErrors:     b.AddErrors.Load(),
		AddAvgNanos:   avg(b.AddTotalNanos.Load(), b.AddCount.Load()),
		MatchCount:    b.MatchCount.Load(),
		MatchErrors:   b.MatchErrors.Load(),
		MatchAvgNanos: avg(b.MatchTotalNanos.Load(), b.MatchCount.Load()),
		MatchResults:  b.MatchResults.Load(),
		RemoveCount:   b.RemoveCount.Load(),
		RemoveMisses:  b.RemoveMisses.Load(),
		SaveCount:     b.SaveCount.Load(),
		SaveErrors:    b.SaveErrors.Load(),
		SaveBytes:     b.SaveBytes.Load(),
		LoadCount:     b.LoadCount.Load(),
		LoadErrors:    b.LoadErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount      int64
	AddErrors     int64
	AddAvgNanos   int64
	MatchCount    int64
	MatchErrors   int64
	MatchAvgNanos int64
	MatchResults  int64
	RemoveCount   int64
	RemoveMisses  int64
	SaveCount     int64
	SaveErrors    int64
	SaveBytes     int64
	LoadCount     int64
	LoadErrors    int64
}
