// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterIdentity(t *testing.T) {
	r := NewRegistry()

	r.IncCounter("requests_total", Labels{"route": "/api/runs"}, 1)
	r.IncCounter("requests_total", Labels{"route": "/api/runs"}, 2)
	r.IncCounter("requests_total", Labels{"route": "/api/jobs"}, 1)

	counters, _, _ := r.Snapshot()
	require.Len(t, counters, 2)

	byLabel := map[string]uint64{}
	for _, c := range counters {
		byLabel[c.Labels["route"]] = c.Value
	}
	assert.Equal(t, uint64(3), byLabel["/api/runs"])
	assert.Equal(t, uint64(1), byLabel["/api/jobs"])
}

func TestGaugeSetAndAdd(t *testing.T) {
	r := NewRegistry()

	r.SetGauge("queue_depth", nil, 5)
	r.AddGauge("queue_depth", nil, 2)
	r.AddGauge("queue_depth", nil, -3)

	_, gauges, _ := r.Snapshot()
	require.Len(t, gauges, 1)
	assert.Equal(t, 4.0, gauges[0].Value)
}

func TestHistogramCDFBuckets(t *testing.T) {
	r := NewRegistry()

	r.Observe("step_duration_seconds", nil, 0.3)

	_, _, hists := r.Snapshot()
	require.Len(t, hists, 1)
	h := hists[0]

	// 0.3 lands in every bucket with bound >= 0.3: 0.5 and up.
	assert.Equal(t, uint64(0), h.Buckets[0]) // 0.01
	assert.Equal(t, uint64(0), h.Buckets[1]) // 0.1
	for i := 2; i < len(h.Buckets); i++ {
		assert.Equal(t, uint64(1), h.Buckets[i])
	}
	assert.Equal(t, uint64(1), h.Count)
	assert.InDelta(t, 0.3, h.Sum, 1e-9)
}

func TestPercentile(t *testing.T) {
	r := NewRegistry()

	for _, v := range []float64{0.05, 0.05, 0.4, 2, 50} {
		r.Observe("d", nil, v)
	}

	p50, ok := r.Percentile("d", nil, 50)
	require.True(t, ok)
	assert.Equal(t, 0.5, p50)

	p100, ok := r.Percentile("d", nil, 100)
	require.True(t, ok)
	assert.Equal(t, 60.0, p100)
}

func TestPercentileMonotone(t *testing.T) {
	r := NewRegistry()
	for _, v := range []float64{0.02, 0.2, 0.7, 3, 20, 100, 250} {
		r.Observe("d", nil, v)
	}

	prev := 0.0
	for _, p := range []float64{10, 25, 50, 75, 90, 99, 100} {
		val, ok := r.Percentile("d", nil, p)
		require.True(t, ok)
		assert.GreaterOrEqual(t, val, prev)
		prev = val
	}
	assert.LessOrEqual(t, prev, DefaultBuckets[len(DefaultBuckets)-1])
}

func TestPercentileEmpty(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Percentile("missing", nil, 50)
	assert.False(t, ok)
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("requests_total", Labels{"route": "/api/health"}, 1)
	assert.NotNil(t, r.Handler())
}
