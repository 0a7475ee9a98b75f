package redis

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheError()
	m.RecordGet(10 * time.Millisecond)
	m.RecordGet(30 * time.Millisecond)
	m.RecordSet(4 * time.Millisecond)
	m.RecordInvalidation(7)
	m.RecordInvalidation(0)

	s := m.GetSnapshot()
	assert.Equal(t, uint64(3), s.CacheHits)
	assert.Equal(t, uint64(1), s.CacheMisses)
	assert.Equal(t, uint64(1), s.CacheErrors)
	assert.InDelta(t, 75.0, s.CacheHitRate, 0.001)
	assert.Equal(t, uint64(2), s.GetOperations)
	assert.Equal(t, 20*time.Millisecond, s.AvgGetLatency)
	assert.Equal(t, 4*time.Millisecond, s.AvgSetLatency)
	assert.Zero(t, s.AvgDeleteLatency)
	assert.Equal(t, uint64(2), s.InvalidationCount)
	assert.Equal(t, uint64(7), s.KeysInvalidated)

	m.Reset()
	assert.Equal(t, MetricsSnapshot{}, m.GetSnapshot())
}

func TestCollectorExportsCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordCacheMiss()
	m.RecordDelete(2 * time.Second)
	m.RecordInvalidation(3)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(m)))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			name := mf.GetName()
			for _, l := range metric.GetLabel() {
				name += "/" + l.GetValue()
			}
			values[name] = metric.GetCounter().GetValue()
		}
	}

	assert.Equal(t, 1.0, values["entity4go_cache_hits_total"])
	assert.Equal(t, 2.0, values["entity4go_cache_misses_total"])
	assert.Equal(t, 0.0, values["entity4go_cache_errors_total"])
	assert.Equal(t, 1.0, values["entity4go_cache_operations_total/delete"])
	assert.Equal(t, 0.0, values["entity4go_cache_operations_total/get"])
	assert.InDelta(t, 2.0, values["entity4go_cache_operation_seconds_total/delete"], 1e-9)
	assert.Equal(t, 1.0, values["entity4go_cache_invalidations_total"])
	assert.Equal(t, 3.0, values["entity4go_cache_invalidated_keys_total"])
}
