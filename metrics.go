package segmap

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
//	    growCounter    prometheus.Counter
//	    flushHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordGrow(segments int, duration time.Duration, err error) {
//	    p.growCounter.Add(float64(segments))
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordGrow is called after each capacity growth that mapped segments.
	// segments is the number of segments newly mapped.
	RecordGrow(segments int, duration time.Duration, err error)

	// RecordTrim is called after each trim. segments is the number released.
	RecordTrim(segments int, duration time.Duration, err error)

	// RecordFlush is called after each flush. dirty is the number of segments
	// written back.
	RecordFlush(dirty int, duration time.Duration, err error)

	// RecordLoad is called after each LoadExisting.
	RecordLoad(loaded bool, duration time.Duration, err error)

	// RecordBackup is called after each backup with the blob bytes written.
	RecordBackup(bytes int64, duration time.Duration, err error)

	// RecordRestore is called after each restore with the blob bytes read.
	RecordRestore(bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGrow(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordTrim(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordFlush(int, time.Duration, error)     {}
func (NoopMetricsCollector) RecordLoad(bool, time.Duration, error)     {}
func (NoopMetricsCollector) RecordBackup(int64, time.Duration, error)  {}
func (NoopMetricsCollector) RecordRestore(int64, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	GrowCount        atomic.Int64
	GrowErrors       atomic.Int64
	SegmentsMapped   atomic.Int64
	TrimCount        atomic.Int64
	SegmentsReleased atomic.Int64
	FlushCount       atomic.Int64
	FlushErrors      atomic.Int64
	FlushTotalNanos  atomic.Int64
	SegmentsFlushed  atomic.Int64
	LoadCount        atomic.Int64
	LoadMisses       atomic.Int64
	BackupCount      atomic.Int64
	BackupErrors     atomic.Int64
	BackupBytes      atomic.Int64
	RestoreCount     atomic.Int64
	RestoreErrors    atomic.Int64
	RestoreBytes     atomic.Int64
}

// RecordGrow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGrow(segments int, duration time.Duration, err error) {
	b.GrowCount.Add(1)
	if err != nil {
		b.GrowErrors.Add(1)
		return
	}
	b.SegmentsMapped.Add(int64(segments))
}

// RecordTrim implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrim(segments int, duration time.Duration, err error) {
	b.TrimCount.Add(1)
	b.SegmentsReleased.Add(int64(segments))
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(dirty int, duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.SegmentsFlushed.Add(int64(dirty))
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(loaded bool, duration time.Duration, err error) {
	b.LoadCount.Add(1)
	if !loaded {
		b.LoadMisses.Add(1)
	}
}

// RecordBackup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBackup(bytes int64, duration time.Duration, err error) {
	b.BackupCount.Add(1)
	if err != nil {
		b.BackupErrors.Add(1)
		return
	}
	b.BackupBytes.Add(bytes)
}

// RecordRestore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRestore(bytes int64, duration time.Duration, err error) {
	b.RestoreCount.Add(1)
	if err != nil {
		b.RestoreErrors.Add(1)
		return
	}
	b.RestoreBytes.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GrowCount:        b.GrowCount.Load(),
		GrowErrors:       b.GrowErrors.Load(),
		SegmentsMapped:   b.SegmentsMapped.Load(),
		TrimCount:        b.TrimCount.Load(),
		SegmentsReleased: b.SegmentsReleased.Load(),
		FlushCount:       b.FlushCount.Load(),
		FlushErrors:      b.FlushErrors.Load(),
		FlushAvgNanos:    b.getAvgFlushNanos(),
		SegmentsFlushed:  b.SegmentsFlushed.Load(),
		LoadCount:        b.LoadCount.Load(),
		LoadMisses:       b.LoadMisses.Load(),
		BackupCount:      b.BackupCount.Load(),
		BackupErrors:     b.BackupErrors.Load(),
		BackupBytes:      b.BackupBytes.Load(),
		RestoreCount:     b.RestoreCount.Load(),
		RestoreErrors:    b.RestoreErrors.Load(),
		RestoreBytes:     b.RestoreBytes.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgFlushNanos() int64 {
	count := b.FlushCount.Load()
	if count == 0 {
		return 0
	}
	return b.FlushTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GrowCount        int64
	GrowErrors       int64
	SegmentsMapped   int64
	TrimCount        int64
	SegmentsReleased int64
	FlushCount       int64
	FlushErrors      int64
	FlushAvgNanos    int64
	SegmentsFlushed  int64
	LoadCount        int64
	LoadMisses       int64
	BackupCount      int64
	BackupErrors     int64
	BackupBytes      int64
	RestoreCount     int64
	RestoreErrors    int64
	RestoreBytes     int64
}
