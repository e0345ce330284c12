package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PrometheusCollector exposes metrics through a Prometheus registry.
// Vectors are created on first use; a metric name must always be used with the same label names.
type PrometheusCollector struct {
	namespace string
	registry  *prometheus.Registry
	logger    *zap.Logger

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusCollector creates a collector with its own registry,
// pre-loaded with the Go runtime and process collectors.
func NewPrometheusCollector(namespace string, logger *zap.Logger) *PrometheusCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PrometheusCollector{
		namespace:  namespace,
		registry:   reg,
		logger:     logger,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// Handler serves the registry in the Prometheus text format.
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (pc *PrometheusCollector) register(name string, c prometheus.Collector) bool {
	if err := pc.registry.Register(c); err != nil {
		pc.logger.Warn("Failed to register metric", zap.String("metric", name), zap.Error(err))
		return false
	}
	return true
}

// IncrementCounter increments a counter metric
func (pc *PrometheusCollector) IncrementCounter(name string, labels map[string]string) {
	pc.mu.Lock()
	vec, ok := pc.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: pc.namespace,
			Name:      name,
			Help:      strings.ReplaceAll(name, "_", " "),
		}, labelNames(labels))
		if !pc.register(name, vec) {
			pc.mu.Unlock()
			return
		}
		pc.counters[name] = vec
	}
	pc.mu.Unlock()

	if c, err := vec.GetMetricWith(labels); err == nil {
		c.Inc()
	}
}

// RecordHistogram records a histogram value
func (pc *PrometheusCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	pc.mu.Lock()
	vec, ok := pc.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: pc.namespace,
			Name:      name,
			Help:      strings.ReplaceAll(name, "_", " "),
			Buckets:   prometheus.DefBuckets,
		}, labelNames(labels))
		if !pc.register(name, vec) {
			pc.mu.Unlock()
			return
		}
		pc.histograms[name] = vec
	}
	pc.mu.Unlock()

	if h, err := vec.GetMetricWith(labels); err == nil {
		h.Observe(value)
	}
}

// SetGauge sets a gauge metric value
func (pc *PrometheusCollector) SetGauge(name string, value float64, labels map[string]string) {
	pc.mu.Lock()
	vec, ok := pc.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: pc.namespace,
			Name:      name,
			Help:      strings.ReplaceAll(name, "_", " "),
		}, labelNames(labels))
		if !pc.register(name, vec) {
			pc.mu.Unlock()
			return
		}
		pc.gauges[name] = vec
	}
	pc.mu.Unlock()

	if g, err := vec.GetMetricWith(labels); err == nil {
		g.Set(value)
	}
}

// RecordDuration records a duration metric
func (pc *PrometheusCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	pc.RecordHistogram(name+"_duration_seconds", duration.Seconds(), labels)
}
