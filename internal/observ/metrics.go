package observ

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registry owns a private prometheus.Registry (never the global default, so
// multiple kernels can coexist inside one test process) plus lazily created
// Vec collectors keyed by metric name. Prometheus collectors are fixed-
// cardinality: the first call for a given name fixes its label names: every
// subsequent call for that name must pass the same label keys.
type registry struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func newRegistry() *registry {
	return &registry{
		reg:        prometheus.NewRegistry(),
		counters:   map[string]*prometheus.CounterVec{},
		gauges:     map[string]*prometheus.GaugeVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
}

var reg = newRegistry()

// ResetMetrics discards all registered collectors. Intended for tests that
// want a clean registry between cases.
func ResetMetrics() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg = newRegistry()
}

func labelKeys(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelValues(keys []string, labels map[string]string) prometheus.Labels {
	out := prometheus.Labels{}
	for _, k := range keys {
		out[k] = labels[k]
	}
	return out
}

func sanitizeName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}

func IncCounter(name string, labels map[string]string) {
	IncCounterBy(name, labels, 1.0)
}

func IncCounterBy(name string, labels map[string]string, value float64) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	name = sanitizeName(name)
	keys := labelKeys(labels)
	c, ok := reg.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: name,
		}, keys)
		reg.reg.MustRegister(c)
		reg.counters[name] = c
	}
	c.With(labelValues(keys, labels)).Add(value)
}

func SetGauge(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	name = sanitizeName(name)
	keys := labelKeys(labels)
	g, ok := reg.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: name,
		}, keys)
		reg.reg.MustRegister(g)
		reg.gauges[name] = g
	}
	g.With(labelValues(keys, labels)).Set(value)
}

func Observe(name string, value float64, labels map[string]string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	name = sanitizeName(name)
	keys := labelKeys(labels)
	h, ok := reg.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, keys)
		reg.reg.MustRegister(h)
		reg.histograms[name] = h
	}
	h.With(labelValues(keys, labels)).Observe(value)
}

// RecordHistogram records a histogram observation.
func RecordHistogram(name string, value float64, labels map[string]string) {
	Observe(name, value, labels)
}

// RecordGauge records a gauge value.
func RecordGauge(name string, value float64, labels map[string]string) {
	SetGauge(name, value, labels)
}

// RecordDuration records a duration metric, in milliseconds.
func RecordDuration(name string, duration time.Duration, labels map[string]string) {
	Observe(name+"_ms", float64(duration.Milliseconds()), labels)
}

// Handler serves the Prometheus text exposition format for the private
// registry. Mounted by cmd/kerneld at the configured metrics port.
func Handler() http.Handler {
	return promhttp.HandlerFor(reg.reg, promhttp.HandlerOpts{})
}
