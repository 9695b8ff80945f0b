package quiver

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
//	    trainCounter     prometheus.Counter
//	    transformedRows  prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordTrainIVF(duration time.Duration, err error) {
//	    p.trainCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordTrainIVF is called after each IVF training run.
	// duration is the total time taken, err is nil if successful.
	RecordTrainIVF(duration time.Duration, err error)

	// RecordTrainPQ is called after each PQ codebook training run.
	RecordTrainPQ(duration time.Duration, err error)

	// RecordTransform is called after each transform run.
	// rows is the number of records written, duration is the time taken.
	RecordTransform(rows int64, duration time.Duration, err error)

	// RecordShuffle is called after each shuffle run.
	// rows is the number of records routed across all partitions.
	RecordShuffle(rows int64, duration time.Duration, err error)

	// RecordWriteIndex is called after each index merge.
	// rows and bytes describe the sealed artifact.
	RecordWriteIndex(rows, bytes int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrainIVF(time.Duration, error)            {}
func (NoopMetricsCollector) RecordTrainPQ(time.Duration, error)             {}
func (NoopMetricsCollector) RecordTransform(int64, time.Duration, error)    {}
func (NoopMetricsCollector) RecordShuffle(int64, time.Duration, error)      {}
func (NoopMetricsCollector) RecordWriteIndex(int64, int64, time.Duration, error) {
}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TrainIVFCount        atomic.Int64
	TrainIVFErrors       atomic.Int64
	TrainIVFTotalNanos   atomic.Int64
	TrainPQCount         atomic.Int64
	TrainPQErrors        atomic.Int64
	TrainPQTotalNanos    atomic.Int64
	TransformCount       atomic.Int64
	TransformErrors      atomic.Int64
	TransformRows        atomic.Int64
	TransformTotalNanos  atomic.Int64
	ShuffleCount         atomic.Int64
	ShuffleErrors        atomic.Int64
	ShuffleRows          atomic.Int64
	WriteIndexCount      atomic.Int64
	WriteIndexErrors     atomic.Int64
	WriteIndexRows       atomic.Int64
	WriteIndexBytes      atomic.Int64
	WriteIndexTotalNanos atomic.Int64
}

// RecordTrainIVF implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrainIVF(duration time.Duration, err error) {
	b.TrainIVFCount.Add(1)
	b.TrainIVFTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TrainIVFErrors.Add(1)
	}
}

// RecordTrainPQ implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrainPQ(duration time.Duration, err error) {
	b.TrainPQCount.Add(1)
	b.TrainPQTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TrainPQErrors.Add(1)
	}
}

// RecordTransform implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTransform(rows int64, duration time.Duration, err error) {
	b.TransformCount.Add(1)
	b.TransformRows.Add(rows)
	b.TransformTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.TransformErrors.Add(1)
	}
}

// RecordShuffle implements MetricsCollector.
func (b *BasicMetricsCollector) RecordShuffle(rows int64, duration time.Duration, err error) {
	b.ShuffleCount.Add(1)
	b.ShuffleRows.Add(rows)
	if err != nil {
		b.ShuffleErrors.Add(1)
	}
}

// RecordWriteIndex implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWriteIndex(rows, bytes int64, duration time.Duration, err error) {
	b.WriteIndexCount.Add(1)
	b.WriteIndexRows.Add(rows)
	b.WriteIndexBytes.Add(bytes)
	b.WriteIndexTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.WriteIndexErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainIVFCount:      b.TrainIVFCount.Load(),
		TrainIVFErrors:     b.TrainIVFErrors.Load(),
		TrainIVFAvgNanos:   avgNanos(&b.TrainIVFTotalNanos, &b.TrainIVFCount),
		TrainPQCount:       b.TrainPQCount.Load(),
		TrainPQErrors:      b.TrainPQErrors.Load(),
		TrainPQAvgNanos:    avgNanos(&b.TrainPQTotalNanos, &b.TrainPQCount),
		TransformCount:     b.TransformCount.Load(),
		TransformErrors:    b.TransformErrors.Load(),
		TransformRows:      b.TransformRows.Load(),
		TransformAvgNanos:  avgNanos(&b.TransformTotalNanos, &b.TransformCount),
		ShuffleCount:       b.ShuffleCount.Load(),
		ShuffleErrors:      b.ShuffleErrors.Load(),
		ShuffleRows:        b.ShuffleRows.Load(),
		WriteIndexCount:    b.WriteIndexCount.Load(),
		WriteIndexErrors:   b.WriteIndexErrors.Load(),
		WriteIndexRows:     b.WriteIndexRows.Load(),
		WriteIndexBytes:    b.WriteIndexBytes.Load(),
		WriteIndexAvgNanos: avgNanos(&b.WriteIndexTotalNanos, &b.WriteIndexCount),
	}
}

func avgNanos(total, count *atomic.Int64) int64 {
	c := count.Load()
	if c == 0 {
		return 0
	}
	return total.Load() / c
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainIVFCount      int64
	TrainIVFErrors     int64
	TrainIVFAvgNanos   int64
	TrainPQCount       int64
	TrainPQErrors      int64
	TrainPQAvgNanos    int64
	TransformCount     int64
	TransformErrors    int64
	TransformRows      int64
	TransformAvgNanos  int64
	ShuffleCount       int64
	ShuffleErrors      int64
	ShuffleRows        int64
	WriteIndexCount    int64
	WriteIndexErrors   int64
	WriteIndexRows     int64
	WriteIndexBytes    int64
	WriteIndexAvgNanos int64
}
