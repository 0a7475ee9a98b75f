package redis

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks cache performance statistics
type Metrics struct {
	// Cache hit/miss counters
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
	cacheErrors atomic.Uint64

	// Operation counters
	getOperations    atomic.Uint64
	setOperations    atomic.Uint64
	deleteOperations atomic.Uint64

	// Timing metrics (in nanoseconds)
	totalGetLatency    atomic.Uint64
	totalSetLatency    atomic.Uint64
	totalDeleteLatency atomic.Uint64

	// Invalidation metrics
	invalidationCount atomic.Uint64
	keysInvalidated   atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCacheHit increments cache hit counter
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss increments cache miss counter
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// RecordCacheError increments cache error counter
func (m *Metrics) RecordCacheError() {
	m.cacheErrors.Add(1)
}

// RecordGet records a get operation with latency
func (m *Metrics) RecordGet(duration time.Duration) {
	m.getOperations.Add(1)
	m.totalGetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordSet records a set operation with latency
func (m *Metrics) RecordSet(duration time.Duration) {
	m.setOperations.Add(1)
	m.totalSetLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordDelete records a delete operation with latency
func (m *Metrics) RecordDelete(duration time.Duration) {
	m.deleteOperations.Add(1)
	m.totalDeleteLatency.Add(uint64(duration.Nanoseconds()))
}

// RecordInvalidation counts one pattern invalidation and the keys it removed
func (m *Metrics) RecordInvalidation(keys int) {
	m.invalidationCount.Add(1)
	m.keysInvalidated.Add(uint64(keys))
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	getOps := m.getOperations.Load()
	setOps := m.setOperations.Load()
	deleteOps := m.deleteOperations.Load()

	var avgGetLatency, avgSetLatency, avgDeleteLatency time.Duration
	if getOps > 0 {
		avgGetLatency = time.Duration(m.totalGetLatency.Load() / getOps)
	}
	if setOps > 0 {
		avgSetLatency = time.Duration(m.totalSetLatency.Load() / setOps)
	}
	if deleteOps > 0 {
		avgDeleteLatency = time.Duration(m.totalDeleteLatency.Load() / deleteOps)
	}

	return MetricsSnapshot{
		CacheHits:         hits,
		CacheMisses:       misses,
		CacheErrors:       m.cacheErrors.Load(),
		CacheHitRate:      hitRate,
		GetOperations:     getOps,
		SetOperations:     setOps,
		DeleteOperations:  deleteOps,
		AvgGetLatency:     avgGetLatency,
		AvgSetLatency:     avgSetLatency,
		AvgDeleteLatency:  avgDeleteLatency,
		InvalidationCount: m.invalidationCount.Load(),
		KeysInvalidated:   m.keysInvalidated.Load(),
	}
}

// Reset resets all metrics counters
func (m *Metrics) Reset() {
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.cacheErrors.Store(0)
	m.getOperations.Store(0)
	m.setOperations.Store(0)
	m.deleteOperations.Store(0)
	m.totalGetLatency.Store(0)
	m.totalSetLatency.Store(0)
	m.totalDeleteLatency.Store(0)
	m.invalidationCount.Store(0)
	m.keysInvalidated.Store(0)
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	// Cache metrics
	CacheHits    uint64
	CacheMisses  uint64
	CacheErrors  uint64
	CacheHitRate float64 // Percentage

	// Operation counts
	GetOperations    uint64
	SetOperations    uint64
	DeleteOperations uint64

	// Latency metrics
	AvgGetLatency    time.Duration
	AvgSetLatency    time.Duration
	AvgDeleteLatency time.Duration

	// Invalidation metrics
	InvalidationCount uint64
	KeysInvalidated   uint64
}

// ============================================================================
// Prometheus Export
// ============================================================================

const metricsNamespace = "entity4go"

// Collector exports Metrics to Prometheus. Values are read at scrape time,
// so Reset shows up as a counter reset.
type Collector struct {
	metrics *Metrics

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	errors        *prometheus.Desc
	operations    *prometheus.Desc
	latency       *prometheus.Desc
	invalidations *prometheus.Desc
	keys          *prometheus.Desc
}

// NewCollector creates a collector over m
func NewCollector(m *Metrics) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "cache", name), help, labels, nil)
	}
	return &Collector{
		metrics:       m,
		hits:          desc("hits_total", "Cache lookups answered from Redis."),
		misses:        desc("misses_total", "Cache lookups that found no entry."),
		errors:        desc("errors_total", "Cache operations that failed."),
		operations:    desc("operations_total", "Cache operations by kind.", "op"),
		latency:       desc("operation_seconds_total", "Time spent in cache operations by kind.", "op"),
		invalidations: desc("invalidations_total", "Table invalidations performed."),
		keys:          desc("invalidated_keys_total", "Keys removed by invalidations."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.hits, c.misses, c.errors, c.operations, c.latency, c.invalidations, c.keys} {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.metrics
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.hits, m.cacheHits.Load())
	counter(c.misses, m.cacheMisses.Load())
	counter(c.errors, m.cacheErrors.Load())

	ops := []struct {
		op      string
		count   *atomic.Uint64
		latency *atomic.Uint64
	}{
		{"get", &m.getOperations, &m.totalGetLatency},
		{"set", &m.setOperations, &m.totalSetLatency},
		{"delete", &m.deleteOperations, &m.totalDeleteLatency},
	}
	for _, o := range ops {
		counter(c.operations, o.count.Load(), o.op)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.CounterValue,
			time.Duration(o.latency.Load()).Seconds(), o.op)
	}

	counter(c.invalidations, m.invalidationCount.Load())
	counter(c.keys, m.keysInvalidated.Load())
}

var _ prometheus.Collector = (*Collector)(nil)
