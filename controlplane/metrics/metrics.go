// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics implements labeled counters, gauges and histograms for the
// control plane. The registry keeps its own aggregates (they back the
// /api/metrics endpoint and percentile queries) and mirrors every update
// into a Prometheus registry for scraping.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the histogram upper bounds in seconds.
var DefaultBuckets = []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300}

// Labels is a set of label key/values attached to a metric.
type Labels map[string]string

// Counter is a monotonic labeled counter.
type Counter struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  uint64            `json:"value"`
}

// Gauge is a labeled gauge.
type Gauge struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Histogram is a labeled cumulative histogram. Buckets[i] counts every
// observation <= UpperBounds[i] (CDF style).
type Histogram struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	UpperBounds []float64         `json:"upper_bounds"`
	Buckets     []uint64          `json:"buckets"`
	Sum         float64           `json:"sum"`
	Count       uint64            `json:"count"`
}

// Registry holds all metrics. Metric identity is (name, sorted label
// key=value string).
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	prom         *prometheus.Registry
	promCounters map[string]*prometheus.CounterVec
	promGauges   map[string]*prometheus.GaugeVec
	promHists    map[string]*prometheus.HistogramVec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:     make(map[string]*Counter),
		gauges:       make(map[string]*Gauge),
		histograms:   make(map[string]*Histogram),
		prom:         prometheus.NewRegistry(),
		promCounters: make(map[string]*prometheus.CounterVec),
		promGauges:   make(map[string]*prometheus.GaugeVec),
		promHists:    make(map[string]*prometheus.HistogramVec),
	}
}

// Handler returns the Prometheus scrape handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// IncCounter adds delta to the counter identified by (name, labels).
func (r *Registry) IncCounter(name string, labels Labels, delta uint64) {
	key := metricKey(name, labels)

	r.mu.Lock()
	c, ok := r.counters[key]
	if !ok {
		c = &Counter{Name: name, Labels: copyLabels(labels)}
		r.counters[key] = c
	}
	c.Value += delta
	vec := r.promCounterLocked(name)
	r.mu.Unlock()

	vec.WithLabelValues(labelString(labels)).Add(float64(delta))
}

// SetGauge sets the gauge identified by (name, labels).
func (r *Registry) SetGauge(name string, labels Labels, value float64) {
	key := metricKey(name, labels)

	r.mu.Lock()
	g, ok := r.gauges[key]
	if !ok {
		g = &Gauge{Name: name, Labels: copyLabels(labels)}
		r.gauges[key] = g
	}
	g.Value = value
	vec := r.promGaugeLocked(name)
	r.mu.Unlock()

	vec.WithLabelValues(labelString(labels)).Set(value)
}

// AddGauge increments (or decrements, with a negative delta) a gauge.
func (r *Registry) AddGauge(name string, labels Labels, delta float64) {
	key := metricKey(name, labels)

	r.mu.Lock()
	g, ok := r.gauges[key]
	if !ok {
		g = &Gauge{Name: name, Labels: copyLabels(labels)}
		r.gauges[key] = g
	}
	g.Value += delta
	vec := r.promGaugeLocked(name)
	value := g.Value
	r.mu.Unlock()

	vec.WithLabelValues(labelString(labels)).Set(value)
}

// Observe records a value into the histogram identified by (name, labels).
// Every bucket whose upper bound is >= v is incremented.
func (r *Registry) Observe(name string, labels Labels, v float64) {
	key := metricKey(name, labels)

	r.mu.Lock()
	h, ok := r.histograms[key]
	if !ok {
		h = &Histogram{
			Name:        name,
			Labels:      copyLabels(labels),
			UpperBounds: append([]float64(nil), DefaultBuckets...),
			Buckets:     make([]uint64, len(DefaultBuckets)),
		}
		r.histograms[key] = h
	}
	for i, bound := range h.UpperBounds {
		if bound >= v {
			h.Buckets[i]++
		}
	}
	h.Sum += v
	h.Count++
	vec := r.promHistLocked(name)
	r.mu.Unlock()

	vec.WithLabelValues(labelString(labels)).Observe(v)
}

// Percentile returns the smallest bucket upper bound whose cumulative count
// reaches ceil(p/100 * count). Returns false for an empty histogram.
func (r *Registry) Percentile(name string, labels Labels, p float64) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.histograms[metricKey(name, labels)]
	if !ok || h.Count == 0 {
		return 0, false
	}

	target := uint64(math.Ceil(p / 100 * float64(h.Count)))
	if target == 0 {
		target = 1
	}
	for i, count := range h.Buckets {
		if count >= target {
			return h.UpperBounds[i], true
		}
	}
	return h.UpperBounds[len(h.UpperBounds)-1], true
}

// Snapshot returns a copy of all metrics for the JSON metrics endpoint.
func (r *Registry) Snapshot() ([]Counter, []Gauge, []Histogram) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counters := make([]Counter, 0, len(r.counters))
	for _, c := range r.counters {
		counters = append(counters, *c)
	}
	gauges := make([]Gauge, 0, len(r.gauges))
	for _, g := range r.gauges {
		gauges = append(gauges, *g)
	}
	histograms := make([]Histogram, 0, len(r.histograms))
	for _, h := range r.histograms {
		clone := *h
		clone.UpperBounds = append([]float64(nil), h.UpperBounds...)
		clone.Buckets = append([]uint64(nil), h.Buckets...)
		histograms = append(histograms, clone)
	}

	sort.Slice(counters, func(i, j int) bool { return counters[i].Name < counters[j].Name })
	sort.Slice(gauges, func(i, j int) bool { return gauges[i].Name < gauges[j].Name })
	sort.Slice(histograms, func(i, j int) bool { return histograms[i].Name < histograms[j].Name })
	return counters, gauges, histograms
}

// promCounterLocked fetches or registers the Prometheus mirror for name.
// Caller holds r.mu. Label sets are flattened into a single "labels" label
// so one vector serves any label combination.
func (r *Registry) promCounterLocked(name string) *prometheus.CounterVec {
	if vec, ok := r.promCounters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, []string{"labels"})
	r.prom.MustRegister(vec)
	r.promCounters[name] = vec
	return vec
}

func (r *Registry) promGaugeLocked(name string) *prometheus.GaugeVec {
	if vec, ok := r.promGauges[name]; ok {
		return vec
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, []string{"labels"})
	r.prom.MustRegister(vec)
	r.promGauges[name] = vec
	return vec
}

func (r *Registry) promHistLocked(name string) *prometheus.HistogramVec {
	if vec, ok := r.promHists[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Buckets: DefaultBuckets,
	}, []string{"labels"})
	r.prom.MustRegister(vec)
	r.promHists[name] = vec
	return vec
}

func metricKey(name string, labels Labels) string {
	return name + "{" + labelString(labels) + "}"
}

func labelString(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

func copyLabels(labels Labels) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
