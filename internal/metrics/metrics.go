// ============================================================================
// beaver-map Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Purpose: collect and expose mapping-run metrics for Prometheus
//
// Metric groups:
//
//   1. Counters (monotonic):
//      - beaver_records_processed_total: records handed to the engine
//      - beaver_mappings_emitted_total: PAF rows written
//      - beaver_unmapped_records_total: records without any hit
//      - beaver_batches_flushed_total: batch flushes to the output sink
//      - beaver_output_bytes_total: bytes appended to the output sink
//      - beaver_failures_total{kind}: fatal errors by kind (decode, align, io)
//
//   2. Histogram:
//      - beaver_flush_latency_seconds: time spent holding the sink lock
//
//   3. Gauge:
//      - beaver_throughput_records_per_second: last value shown on the
//        progress line
//
// Example queries:
//
//   # records per second over the last minute
//   rate(beaver_records_processed_total[1m])
//
//   # 95th percentile flush latency
//   histogram_quantile(0.95, beaver_flush_latency_seconds_bucket)
//
// HTTP endpoint:
//   /metrics on metrics.addr when metrics.enabled is set
//
// All methods are safe on a nil *Collector so callers can run without
// instrumentation.
//
// ============================================================================

package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/beaver-map/pkg/types"
)

// Failure kinds.
const (
	KindDecode = "decode"
	KindAlign  = "align"
	KindIO     = "io"
	KindOther  = "other"
)

// KindOf classifies err into a failure kind.
func KindOf(err error) string {
	switch {
	case errors.Is(err, types.ErrDecode):
		return KindDecode
	case errors.Is(err, types.ErrAlign):
		return KindAlign
	case errors.Is(err, types.ErrIO):
		return KindIO
	}
	return KindOther
}

// Collector Prometheus metric set of a mapping run
type Collector struct {
	recordsProcessed prometheus.Counter
	mappingsEmitted  prometheus.Counter
	unmappedRecords  prometheus.Counter
	batchesFlushed   prometheus.Counter
	outputBytes      prometheus.Counter
	failures         *prometheus.CounterVec

	flushLatency prometheus.Histogram
	throughput   prometheus.Gauge
}

// NewCollector creates the metric set and registers it on reg. A nil reg
// selects the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		recordsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beaver_records_processed_total",
			Help: "Total number of query records mapped",
		}),
		mappingsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beaver_mappings_emitted_total",
			Help: "Total number of mapping rows written",
		}),
		unmappedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beaver_unmapped_records_total",
			Help: "Total number of records with no mapping",
		}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beaver_batches_flushed_total",
			Help: "Total number of batch flushes to the output sink",
		}),
		outputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beaver_output_bytes_total",
			Help: "Total number of bytes appended to the output sink",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beaver_failures_total",
			Help: "Total number of fatal errors by kind",
		}, []string{"kind"}),
		flushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "beaver_flush_latency_seconds",
			Help:    "Time spent appending one batch to the output sink",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		throughput: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beaver_throughput_records_per_second",
			Help: "Most recent run-wide throughput",
		}),
	}

	reg.MustRegister(
		c.recordsProcessed,
		c.mappingsEmitted,
		c.unmappedRecords,
		c.batchesFlushed,
		c.outputBytes,
		c.failures,
		c.flushLatency,
		c.throughput,
	)
	return c
}

// RecordRecord counts one processed record and its mappings.
func (c *Collector) RecordRecord(mappings int) {
	if c == nil {
		return
	}
	c.recordsProcessed.Inc()
	if mappings == 0 {
		c.unmappedRecords.Inc()
		return
	}
	c.mappingsEmitted.Add(float64(mappings))
}

// RecordFlush counts one batch flush.
func (c *Collector) RecordFlush(bytes int, latencySeconds float64) {
	if c == nil {
		return
	}
	c.batchesFlushed.Inc()
	c.outputBytes.Add(float64(bytes))
	c.flushLatency.Observe(latencySeconds)
}

// RecordFailure counts a fatal error.
func (c *Collector) RecordFailure(kind string) {
	if c == nil {
		return
	}
	c.failures.WithLabelValues(kind).Inc()
}

// SetThroughput publishes the latest throughput.
func (c *Collector) SetThroughput(recordsPerSec float64) {
	if c == nil {
		return
	}
	c.throughput.Set(recordsPerSec)
}

// NewServer returns an HTTP server exposing g on /metrics. The caller owns
// ListenAndServe and Shutdown.
func NewServer(addr string, g prometheus.Gatherer) *http.Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}
