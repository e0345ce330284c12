package metrics

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MetricsCollector interface for collecting metrics
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	RecordDuration(name string, duration time.Duration, labels map[string]string)
}

// SimpleMetricsCollector is a basic in-memory metrics collector
type SimpleMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	histograms map[string][]float64
	gauges     map[string]float64
	logger     *zap.Logger
}

// NewSimpleMetricsCollector creates a new simple metrics collector
func NewSimpleMetricsCollector(logger *zap.Logger) *SimpleMetricsCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimpleMetricsCollector{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
		gauges:     make(map[string]float64),
		logger:     logger,
	}
}

// IncrementCounter increments a counter metric
func (smc *SimpleMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	key := buildMetricKey(name, labels)
	smc.mu.Lock()
	smc.counters[key]++
	value := smc.counters[key]
	smc.mu.Unlock()

	smc.logger.Debug("Counter incremented",
		zap.String("metric", name),
		zap.Any("labels", labels),
		zap.Float64("value", value))
}

// RecordHistogram records a histogram value
func (smc *SimpleMetricsCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	key := buildMetricKey(name, labels)
	smc.mu.Lock()
	smc.histograms[key] = append(smc.histograms[key], value)
	smc.mu.Unlock()

	smc.logger.Debug("Histogram recorded",
		zap.String("metric", name),
		zap.Any("labels", labels),
		zap.Float64("value", value))
}

// SetGauge sets a gauge metric value
func (smc *SimpleMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	key := buildMetricKey(name, labels)
	smc.mu.Lock()
	smc.gauges[key] = value
	smc.mu.Unlock()

	smc.logger.Debug("Gauge set",
		zap.String("metric", name),
		zap.Any("labels", labels),
		zap.Float64("value", value))
}

// RecordDuration records a duration metric
func (smc *SimpleMetricsCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	smc.RecordHistogram(name+"_duration_seconds", duration.Seconds(), labels)
}

// Counter returns the current value of a counter.
func (smc *SimpleMetricsCollector) Counter(name string, labels map[string]string) float64 {
	smc.mu.RLock()
	defer smc.mu.RUnlock()
	return smc.counters[buildMetricKey(name, labels)]
}

// Counters returns a copy of all counters keyed by metric key.
func (smc *SimpleMetricsCollector) Counters() map[string]float64 {
	smc.mu.RLock()
	defer smc.mu.RUnlock()
	out := make(map[string]float64, len(smc.counters))
	for k, v := range smc.counters {
		out[k] = v
	}
	return out
}

// Gauges returns a copy of all gauges keyed by metric key.
func (smc *SimpleMetricsCollector) Gauges() map[string]float64 {
	smc.mu.RLock()
	defer smc.mu.RUnlock()
	out := make(map[string]float64, len(smc.gauges))
	for k, v := range smc.gauges {
		out[k] = v
	}
	return out
}

// buildMetricKey builds a unique key for a metric with labels.
// Labels are sorted so the key does not depend on map order.
func buildMetricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// MultiCollector fans every observation out to several collectors.
type MultiCollector []MetricsCollector

func (m MultiCollector) IncrementCounter(name string, labels map[string]string) {
	for _, c := range m {
		c.IncrementCounter(name, labels)
	}
}

func (m MultiCollector) RecordHistogram(name string, value float64, labels map[string]string) {
	for _, c := range m {
		c.RecordHistogram(name, value, labels)
	}
}

func (m MultiCollector) SetGauge(name string, value float64, labels map[string]string) {
	for _, c := range m {
		c.SetGauge(name, value, labels)
	}
}

func (m MultiCollector) RecordDuration(name string, duration time.Duration, labels map[string]string) {
	for _, c := range m {
		c.RecordDuration(name, duration, labels)
	}
}

// Snapshot is the JSON view served by the metrics endpoint.
type Snapshot struct {
	Uptime                string             `json:"uptime"`
	UptimeSeconds         float64            `json:"uptime_seconds"`
	RequestsCount         int64              `json:"requests_count"`
	ErrorsCount           int64              `json:"errors_count"`
	AverageResponseTimeMS float64            `json:"average_response_time_ms"`
	ProviderCalls         int64              `json:"provider_calls"`
	ProviderErrors        int64              `json:"provider_errors"`
	BatchQueries          int64              `json:"batch_queries"`
	Counters              map[string]float64 `json:"counters,omitempty"`
	Gauges                map[string]float64 `json:"gauges,omitempty"`
}

// ApplicationMetrics holds all application-specific metrics.
// All methods are safe on a nil receiver so callers can run without metrics.
type ApplicationMetrics struct {
	collector MetricsCollector
	simple    *SimpleMetricsCollector
	logger    *zap.Logger
	startTime time.Time

	requests       atomic.Int64
	errors         atomic.Int64
	totalLatencyUS atomic.Int64
	providerCalls  atomic.Int64
	providerErrors atomic.Int64
	batches        atomic.Int64
}

// NewApplicationMetrics creates a new application metrics instance.
// When collector is, or contains, a SimpleMetricsCollector its values appear in snapshots.
func NewApplicationMetrics(collector MetricsCollector, logger *zap.Logger) *ApplicationMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	am := &ApplicationMetrics{
		collector: collector,
		logger:    logger,
		startTime: time.Now(),
	}
	switch c := collector.(type) {
	case *SimpleMetricsCollector:
		am.simple = c
	case MultiCollector:
		for _, inner := range c {
			if s, ok := inner.(*SimpleMetricsCollector); ok {
				am.simple = s
				break
			}
		}
	}
	return am
}

// HTTP Metrics
func (am *ApplicationMetrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if am == nil {
		return
	}
	am.requests.Add(1)
	am.totalLatencyUS.Add(duration.Microseconds())
	if statusCode >= http.StatusBadRequest {
		am.errors.Add(1)
	}

	labels := map[string]string{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(statusCode),
	}

	am.collector.IncrementCounter("http_requests_total", labels)
	am.collector.RecordDuration("http_request_duration", duration, labels)
}

// Provider Metrics
func (am *ApplicationMetrics) RecordProviderCall(provider string, success bool, records int, duration time.Duration) {
	if am == nil {
		return
	}
	am.providerCalls.Add(1)
	if !success {
		am.providerErrors.Add(1)
	}

	labels := map[string]string{
		"provider": provider,
		"success":  strconv.FormatBool(success),
	}

	am.collector.IncrementCounter("provider_calls_total", labels)
	am.collector.RecordDuration("provider_call_duration", duration, labels)
	am.collector.RecordHistogram("provider_records", float64(records), map[string]string{"provider": provider})
}

func (am *ApplicationMetrics) RecordBatch(size int, async bool) {
	if am == nil {
		return
	}
	am.batches.Add(1)
	am.collector.RecordHistogram("batch_size", float64(size), map[string]string{
		"async": strconv.FormatBool(async),
	})
}

// Circuit Breaker Metrics
func (am *ApplicationMetrics) RecordCircuitBreakerState(name, state string) {
	if am == nil {
		return
	}
	labels := map[string]string{
		"name":  name,
		"state": state,
	}

	am.collector.IncrementCounter("circuit_breaker_state_changes_total", labels)
}

// Error Metrics
func (am *ApplicationMetrics) RecordError(errorType, component string) {
	if am == nil {
		return
	}
	labels := map[string]string{
		"type":      errorType,
		"component": component,
	}

	am.collector.IncrementCounter("errors_total", labels)
}

// Snapshot summarizes the process metrics.
func (am *ApplicationMetrics) Snapshot() Snapshot {
	if am == nil {
		return Snapshot{}
	}
	uptime := time.Since(am.startTime)
	s := Snapshot{
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
		RequestsCount:  am.requests.Load(),
		ErrorsCount:    am.errors.Load(),
		ProviderCalls:  am.providerCalls.Load(),
		ProviderErrors: am.providerErrors.Load(),
		BatchQueries:   am.batches.Load(),
	}
	if s.RequestsCount > 0 {
		s.AverageResponseTimeMS = float64(am.totalLatencyUS.Load()) / float64(s.RequestsCount) / 1000
	}
	if am.simple != nil {
		s.Counters = am.simple.Counters()
		s.Gauges = am.simple.Gauges()
	}
	return s
}

// MetricsMiddleware creates HTTP middleware for collecting metrics.
// pathLabel maps a request to a bounded label, typically its route template; nil uses the raw path.
func MetricsMiddleware(metrics *ApplicationMetrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create a response writer wrapper to capture status code
			wrapper := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrapper, r)

			path := r.URL.Path
			if pathLabel != nil {
				path = pathLabel(r)
			}
			metrics.RecordHTTPRequest(r.Method, path, wrapper.statusCode, time.Since(start))
		})
	}
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriterWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriterWrapper) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// HealthMetrics tracks health check metrics
type HealthMetrics struct {
	metrics *ApplicationMetrics
}

// NewHealthMetrics creates a new health metrics instance
func NewHealthMetrics(metrics *ApplicationMetrics) *HealthMetrics {
	return &HealthMetrics{
		metrics: metrics,
	}
}

// SetComponentHealth sets the current health status of a component
func (hm *HealthMetrics) SetComponentHealth(component string, healthy bool) {
	if hm == nil || hm.metrics == nil {
		return
	}
	labels := map[string]string{
		"component": component,
	}

	var value float64
	if healthy {
		value = 1
	}

	hm.metrics.collector.SetGauge("component_health", value, labels)
}
