// internal/utils/metrics.go
package utils

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of observed values
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector creates an isolated collector (used by tests)
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// slot returns the cell for name, creating it under the write lock when missing
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := set[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = set[name]; !ok {
		v = new(int64)
		set[name] = v
	}
	return v
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// RelayMetrics records relay-specific metrics on top of a collector
type RelayMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewRelayMetrics creates a relay metrics recorder on the global collector
func NewRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// NewRelayMetricsWith binds the recorder to a given collector
func NewRelayMetricsWith(c *MetricsCollector) *RelayMetrics {
	return &RelayMetrics{metrics: c, logger: GetLogger()}
}

// Collector exposes the underlying collector
func (rm *RelayMetrics) Collector() *MetricsCollector {
	return rm.metrics
}

// RecordAPIRequest records metrics for an HTTP request
func (rm *RelayMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	rm.metrics.IncrementCounter("api_requests_total")
	rm.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	rm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
	rm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")

	rm.logger.Debug("API request completed", map[string]interface{}{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// RecordGeneration records one backend call; outcome is ok, network, error or auth
func (rm *RelayMetrics) RecordGeneration(backend, model, outcome string, promptTokens int, duration time.Duration) {
	rm.metrics.IncrementCounter("llm_requests_total")
	rm.metrics.IncrementCounter("llm_requests_" + backend)
	rm.metrics.IncrementCounter("llm_outcome_" + outcome)
	rm.metrics.AddCounter("llm_prompt_tokens_total", int64(promptTokens))
	rm.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())

	rm.logger.Info("LLM request completed", map[string]interface{}{
		"backend":  backend,
		"model":    model,
		"outcome":  outcome,
		"tokens":   promptTokens,
		"duration": duration.Milliseconds(),
	})
}

// RecordQueueWait records time spent waiting for an admission slot
func (rm *RelayMetrics) RecordQueueWait(backend string, position int, wait time.Duration) {
	rm.metrics.RecordHistogram("queue_wait_ms_"+backend, wait.Milliseconds())
	rm.metrics.RecordHistogram("queue_position_"+backend, int64(position))
}

// InFlight adjusts the in-flight gauge of a backend
func (rm *RelayMetrics) InFlight(backend string, delta int) {
	if delta > 0 {
		rm.metrics.IncGauge("llm_in_flight_" + backend)
	} else {
		rm.metrics.DecGauge("llm_in_flight_" + backend)
	}
}

// RecordTranslation records a translation attempt
func (rm *RelayMetrics) RecordTranslation(target string, ok bool) {
	rm.metrics.IncrementCounter("translations_total")
	if !ok {
		rm.metrics.IncrementCounter("translations_failed_" + target)
	}
}

// RecordSessionOp records a coordinator operation (message, retry, edit, ...)
func (rm *RelayMetrics) RecordSessionOp(op string, err error) {
	rm.metrics.IncrementCounter("session_ops_" + op)
	if err != nil {
		rm.metrics.IncrementCounter("session_ops_failed_" + op)
	}
}

// RecordError records an error metric
func (rm *RelayMetrics) RecordError(errorType, component string) {
	rm.metrics.IncrementCounter("errors_total")
	rm.metrics.IncrementCounter("errors_" + errorType)
	rm.metrics.IncrementCounter("errors_" + component)

	rm.logger.Error("Error recorded", map[string]interface{}{
		"type":      errorType,
		"component": component,
	})
}

// StartMetricsCollection periodically logs a metrics summary until ctx ends
func (rm *RelayMetrics) StartMetricsCollection(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rm.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": rm.metrics.GetMetrics(),
				})
			}
		}
	}()
}
