// middleware_metrics.go - Sliding-Window Metrics Collector
//
// Pro Model-Name wird ein Ringpuffer der letzten MetricsWindowSize
// abgeschlossenen Requests gefuehrt. Anhaenge laufen unter Lock;
// Perzentil-Lesungen kopieren den Puffer unter dem Lock heraus und
// sortieren ausserhalb davon, damit Writer nicht auf eine Sortierung
// warten muessen.
package server

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RequestOutcome is one completed request's contribution to a model's
// sliding window.
type RequestOutcome struct {
	Latency time.Duration
	Tokens  int
	Err     bool
}

type modelMetrics struct {
	mu         sync.Mutex
	ring       []RequestOutcome
	cap        int
	next       int
	filled     bool
	count      int64
	errCount   int64
	totalTok   int64
}

func newModelMetrics(capacity int) *modelMetrics {
	return &modelMetrics{ring: make([]RequestOutcome, capacity), cap: capacity}
}

func (m *modelMetrics) record(o RequestOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = o
	m.next = (m.next + 1) % m.cap
	if m.next == 0 {
		m.filled = true
	}

	m.count++
	if o.Err {
		m.errCount++
	}
	m.totalTok += int64(o.Tokens)
}

func (m *modelMetrics) snapshot() []RequestOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.next
	if m.filled {
		n = m.cap
	}
	out := make([]RequestOutcome, n)
	copy(out, m.ring[:n])
	return out
}

// ModelMetricsSummary is the aggregate view returned by the /metrics
// endpoint for one model.
type ModelMetricsSummary struct {
	Model        string
	Count        int64
	ErrorCount   int64
	ErrorRate    float64
	TotalTokens  int64
	MeanLatency  time.Duration
	P50Latency   time.Duration
	P95Latency   time.Duration
	P99Latency   time.Duration
	TokensPerSec float64
}

// MetricsCollector aggregates per-model request outcomes into exact
// sliding-window percentiles, plus supplementary prometheus counters
// for dashboards that expect the standard exposition format.
type MetricsCollector struct {
	windowSize int

	mu     sync.RWMutex
	models map[string]*modelMetrics

	promRequests *prometheus.CounterVec
	promErrors   *prometheus.CounterVec
	promTokens   *prometheus.CounterVec
	promLatency  *prometheus.HistogramVec
}

// NewMetricsCollector constructs a collector with the given per-model
// window size and registers its prometheus vectors against reg.
func NewMetricsCollector(windowSize int, reg prometheus.Registerer) *MetricsCollector {
	c := &MetricsCollector{
		windowSize: windowSize,
		models:     make(map[string]*modelMetrics),
		promRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infer_requests_total",
			Help: "Total completed inference requests per model.",
		}, []string{"model"}),
		promErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infer_errors_total",
			Help: "Total inference errors per model.",
		}, []string{"model"}),
		promTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "infer_tokens_total",
			Help: "Total tokens generated per model.",
		}, []string{"model"}),
		promLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "infer_request_latency_seconds",
			Help:    "Request latency distribution per model.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
	}
	if reg != nil {
		reg.MustRegister(c.promRequests, c.promErrors, c.promTokens, c.promLatency)
	}
	return c
}

func (c *MetricsCollector) modelFor(name string) *modelMetrics {
	c.mu.RLock()
	m, ok := c.models[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok = c.models[name]; ok {
		return m
	}
	m = newModelMetrics(c.windowSize)
	c.models[name] = m
	return m
}

// Record appends one completed request's outcome for model.
func (c *MetricsCollector) Record(model string, o RequestOutcome) {
	c.modelFor(model).record(o)

	c.promRequests.WithLabelValues(model).Inc()
	if o.Err {
		c.promErrors.WithLabelValues(model).Inc()
	}
	c.promTokens.WithLabelValues(model).Add(float64(o.Tokens))
	c.promLatency.WithLabelValues(model).Observe(o.Latency.Seconds())
}

// Summary computes the current aggregate for model from its window.
func (c *MetricsCollector) Summary(model string) ModelMetricsSummary {
	m := c.modelFor(model)
	window := m.snapshot()

	m.mu.Lock()
	count, errCount, totalTok := m.count, m.errCount, m.totalTok
	m.mu.Unlock()

	s := ModelMetricsSummary{
		Model:       model,
		Count:       count,
		ErrorCount:  errCount,
		TotalTokens: totalTok,
	}
	if count > 0 {
		s.ErrorRate = float64(errCount) / float64(count)
	}
	if len(window) == 0 {
		return s
	}

	latencies := make([]time.Duration, len(window))
	var totalLatency time.Duration
	var windowTokens int64
	for i, o := range window {
		latencies[i] = o.Latency
		totalLatency += o.Latency
		windowTokens += int64(o.Tokens)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	s.MeanLatency = totalLatency / time.Duration(len(latencies))
	s.P50Latency = percentileOf(latencies, 0.50)
	s.P95Latency = percentileOf(latencies, 0.95)
	s.P99Latency = percentileOf(latencies, 0.99)
	if totalLatency > 0 {
		s.TokensPerSec = float64(windowTokens) / totalLatency.Seconds()
	}
	return s
}

// percentileOf indexes into an already-sorted slice. Nearest-rank
// method: index = ceil(p * n) - 1, clamped to bounds.
func percentileOf(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.9999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Models lists every model name with recorded metrics.
func (c *MetricsCollector) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.models))
	for name := range c.models {
		out = append(out, name)
	}
	return out
}
