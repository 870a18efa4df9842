package common

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// IntelligenceMetrics is the telemetry API of the extraction and scoring
// layer.  The dispatch engine, the batch processor and the scorer record
// through it so the backing implementation (Prometheus, in-memory, noop) can
// be swapped without touching extraction code.
type IntelligenceMetrics interface {
	// RecordModuleRun records one extraction module invocation.
	RecordModuleRun(ctx context.Context, params *ModuleRunParams)

	// RecordBatchProcessing records a batch processing event.
	RecordBatchProcessing(ctx context.Context, params *BatchMetricParams)

	// RecordCacheAccess records a prediction cache hit or miss.
	RecordCacheAccess(ctx context.Context, hit bool, cache string)

	// RecordScoring records one scoring pass.
	RecordScoring(ctx context.Context, params *ScoringMetricParams)

	// GetModuleLatencyHistogram returns the module latency histogram.
	GetModuleLatencyHistogram() LatencyHistogram

	// GetCurrentStats returns a point-in-time statistics snapshot.
	GetCurrentStats() *IntelligenceStats
}

// LatencyHistogram provides percentile-based latency observation.
type LatencyHistogram interface {
	// Observe records a latency sample in milliseconds.
	Observe(durationMs float64)

	// Percentile returns the value at the given percentile (0–100).
	Percentile(p float64) float64

	// Count returns the total number of observed samples.
	Count() int64

	// Sum returns the sum of all observed values.
	Sum() float64
}

// ---------------------------------------------------------------------------
// Parameter structs
// ---------------------------------------------------------------------------

// ModuleRunParams carries the data for a single module invocation.
type ModuleRunParams struct {
	Module     string  `json:"module"`
	Mode       string  `json:"mode"` // "parallel" or "sequential"
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
	ErrorCode  string  `json:"error_code,omitempty"`
}

// BatchMetricParams carries the data for a batch processing event.
type BatchMetricParams struct {
	BatchName         string  `json:"batch_name"`
	TotalItems        int     `json:"total_items"`
	SuccessItems      int     `json:"success_items"`
	FailedItems       int     `json:"failed_items"`
	TimeoutItems      int     `json:"timeout_items"`
	CancelledItems    int     `json:"cancelled_items"`
	TotalDurationMs   float64 `json:"total_duration_ms"`
	AvgItemDurationMs float64 `json:"avg_item_duration_ms"`
	MaxConcurrency    int     `json:"max_concurrency"`
}

// ScoringMetricParams carries the data for one scoring pass.
type ScoringMetricParams struct {
	Profile    string  `json:"profile"`
	CostScore  float64 `json:"cost_score"`
	RiskScore  float64 `json:"risk_score"`
	DurationMs float64 `json:"duration_ms"`
	Success    bool    `json:"success"`
}

// IntelligenceStats is a point-in-time snapshot of extraction metrics.
type IntelligenceStats struct {
	TotalModuleRuns      int64            `json:"total_module_runs"`
	SuccessfulModuleRuns int64            `json:"successful_module_runs"`
	FailedModuleRuns     int64            `json:"failed_module_runs"`
	AvgModuleLatencyMs   float64          `json:"avg_module_latency_ms"`
	P50LatencyMs         float64          `json:"p50_latency_ms"`
	P95LatencyMs         float64          `json:"p95_latency_ms"`
	P99LatencyMs         float64          `json:"p99_latency_ms"`
	CacheHitRate         float64          `json:"cache_hit_rate"`
	FailuresByModule     map[string]int64 `json:"failures_by_module"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

var defaultLatencyBuckets = []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}

type prometheusIntelligenceMetrics struct {
	moduleLatency           *prometheus.HistogramVec
	moduleRunsTotal         *prometheus.CounterVec
	batchProcessingDuration *prometheus.HistogramVec
	batchItemsTotal         *prometheus.CounterVec
	cacheAccessTotal        *prometheus.CounterVec
	scoringTotal            *prometheus.CounterVec
	scoreValue              *prometheus.GaugeVec

	// in-memory tracking for GetCurrentStats / GetModuleLatencyHistogram
	mem *InMemoryIntelligenceMetrics
}

// NewPrometheusIntelligenceMetrics creates a Prometheus-backed metrics
// collector under namespace and registers every metric with registerer.
// Registering twice on the same registry fails.
func NewPrometheusIntelligenceMetrics(registerer prometheus.Registerer, namespace string) (IntelligenceMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	const subsystem = "extraction"

	m := &prometheusIntelligenceMetrics{mem: NewInMemoryIntelligenceMetrics()}

	m.moduleLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "module_duration_milliseconds",
		Help:      "Histogram of extraction module latency in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"module", "mode"})

	m.moduleRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "module_runs_total",
		Help:      "Total number of extraction module runs.",
	}, []string{"module", "status"})

	m.batchProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "batch_duration_milliseconds",
		Help:      "Histogram of batch processing duration in milliseconds.",
		Buckets:   defaultLatencyBuckets,
	}, []string{"batch_name"})

	m.batchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "batch_items_total",
		Help:      "Total number of items processed in batches.",
	}, []string{"batch_name", "status"})

	m.cacheAccessTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cache_access_total",
		Help:      "Total number of prediction cache accesses.",
	}, []string{"cache", "result"})

	m.scoringTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "scoring_total",
		Help:      "Total number of scoring passes.",
	}, []string{"profile", "status"})

	m.scoreValue = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "last_score",
		Help:      "Most recent cost and risk score per profile.",
	}, []string{"profile", "kind"})

	collectors := []prometheus.Collector{
		m.moduleLatency,
		m.moduleRunsTotal,
		m.batchProcessingDuration,
		m.batchItemsTotal,
		m.cacheAccessTotal,
		m.scoringTotal,
		m.scoreValue,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *prometheusIntelligenceMetrics) RecordModuleRun(ctx context.Context, p *ModuleRunParams) {
	if p == nil {
		return
	}
	m.moduleLatency.WithLabelValues(p.Module, p.Mode).Observe(p.DurationMs)
	m.moduleRunsTotal.WithLabelValues(p.Module, statusLabel(p.Success)).Inc()
	m.mem.RecordModuleRun(ctx, p)
}

func (m *prometheusIntelligenceMetrics) RecordBatchProcessing(ctx context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.batchProcessingDuration.WithLabelValues(p.BatchName).Observe(p.TotalDurationMs)
	m.batchItemsTotal.WithLabelValues(p.BatchName, "success").Add(float64(p.SuccessItems))
	m.batchItemsTotal.WithLabelValues(p.BatchName, "failure").Add(float64(p.FailedItems))
	m.mem.RecordBatchProcessing(ctx, p)
}

func (m *prometheusIntelligenceMetrics) RecordCacheAccess(ctx context.Context, hit bool, cache string) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheAccessTotal.WithLabelValues(cache, result).Inc()
	m.mem.RecordCacheAccess(ctx, hit, cache)
}

func (m *prometheusIntelligenceMetrics) RecordScoring(ctx context.Context, p *ScoringMetricParams) {
	if p == nil {
		return
	}
	m.scoringTotal.WithLabelValues(p.Profile, statusLabel(p.Success)).Inc()
	if p.Success {
		m.scoreValue.WithLabelValues(p.Profile, "cost").Set(p.CostScore)
		m.scoreValue.WithLabelValues(p.Profile, "risk").Set(p.RiskScore)
	}
	m.mem.RecordScoring(ctx, p)
}

func (m *prometheusIntelligenceMetrics) GetModuleLatencyHistogram() LatencyHistogram {
	return m.mem.GetModuleLatencyHistogram()
}

func (m *prometheusIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return m.mem.GetCurrentStats()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopIntelligenceMetrics struct{}

// NewNoopIntelligenceMetrics returns an IntelligenceMetrics that records nothing.
func NewNoopIntelligenceMetrics() IntelligenceMetrics {
	return &noopIntelligenceMetrics{}
}

func (n *noopIntelligenceMetrics) RecordModuleRun(context.Context, *ModuleRunParams)         {}
func (n *noopIntelligenceMetrics) RecordBatchProcessing(context.Context, *BatchMetricParams) {}
func (n *noopIntelligenceMetrics) RecordCacheAccess(context.Context, bool, string)           {}
func (n *noopIntelligenceMetrics) RecordScoring(context.Context, *ScoringMetricParams)       {}

func (n *noopIntelligenceMetrics) GetModuleLatencyHistogram() LatencyHistogram {
	return newLatencyHistogram()
}

func (n *noopIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	return &IntelligenceStats{FailuresByModule: map[string]int64{}}
}

// ---------------------------------------------------------------------------
// In-memory implementation (for testing)
// ---------------------------------------------------------------------------

// InMemoryIntelligenceMetrics keeps every recorded event for inspection.
type InMemoryIntelligenceMetrics struct {
	mu sync.Mutex

	moduleRuns  []*ModuleRunParams
	batches     []*BatchMetricParams
	scorings    []*ScoringMetricParams
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	latencyHist *latencyHistogram
}

// NewInMemoryIntelligenceMetrics returns an in-memory metrics implementation
// suitable for unit tests.
func NewInMemoryIntelligenceMetrics() *InMemoryIntelligenceMetrics {
	return &InMemoryIntelligenceMetrics{latencyHist: newLatencyHistogram()}
}

func (m *InMemoryIntelligenceMetrics) RecordModuleRun(_ context.Context, p *ModuleRunParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.moduleRuns = append(m.moduleRuns, &cp)
	m.latencyHist.Observe(p.DurationMs)
}

func (m *InMemoryIntelligenceMetrics) RecordBatchProcessing(_ context.Context, p *BatchMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.batches = append(m.batches, &cp)
}

func (m *InMemoryIntelligenceMetrics) RecordCacheAccess(_ context.Context, hit bool, _ string) {
	if hit {
		m.cacheHits.Add(1)
	} else {
		m.cacheMisses.Add(1)
	}
}

func (m *InMemoryIntelligenceMetrics) RecordScoring(_ context.Context, p *ScoringMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.scorings = append(m.scorings, &cp)
}

func (m *InMemoryIntelligenceMetrics) GetModuleLatencyHistogram() LatencyHistogram {
	return m.latencyHist
}

func (m *InMemoryIntelligenceMetrics) GetCurrentStats() *IntelligenceStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &IntelligenceStats{FailuresByModule: make(map[string]int64)}
	var sumLatency float64
	for _, r := range m.moduleRuns {
		stats.TotalModuleRuns++
		if r.Success {
			stats.SuccessfulModuleRuns++
		} else {
			stats.FailedModuleRuns++
			stats.FailuresByModule[r.Module]++
		}
		sumLatency += r.DurationMs
	}
	if stats.TotalModuleRuns > 0 {
		stats.AvgModuleLatencyMs = sumLatency / float64(stats.TotalModuleRuns)
	}

	hits, misses := m.cacheHits.Load(), m.cacheMisses.Load()
	if hits+misses > 0 {
		stats.CacheHitRate = float64(hits) / float64(hits+misses)
	}
	stats.P50LatencyMs = m.latencyHist.Percentile(50)
	stats.P95LatencyMs = m.latencyHist.Percentile(95)
	stats.P99LatencyMs = m.latencyHist.Percentile(99)
	return stats
}

// ModuleRuns returns a copy of all recorded module runs.
func (m *InMemoryIntelligenceMetrics) ModuleRuns() []ModuleRunParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ModuleRunParams, len(m.moduleRuns))
	for i, p := range m.moduleRuns {
		out[i] = *p
	}
	return out
}

// Batches returns a copy of all recorded batch params.
func (m *InMemoryIntelligenceMetrics) Batches() []BatchMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BatchMetricParams, len(m.batches))
	for i, p := range m.batches {
		out[i] = *p
	}
	return out
}

// Scorings returns a copy of all recorded scoring passes.
func (m *InMemoryIntelligenceMetrics) Scorings() []ScoringMetricParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScoringMetricParams, len(m.scorings))
	for i, p := range m.scorings {
		out[i] = *p
	}
	return out
}

// CacheHits returns the number of cache hits recorded.
func (m *InMemoryIntelligenceMetrics) CacheHits() int64 { return m.cacheHits.Load() }

// CacheMisses returns the number of cache misses recorded.
func (m *InMemoryIntelligenceMetrics) CacheMisses() int64 { return m.cacheMisses.Load() }

// ---------------------------------------------------------------------------
// latencyHistogram: in-memory, thread-safe, percentile-capable
// ---------------------------------------------------------------------------

type latencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	sum     float64
	sorted  bool
}

func newLatencyHistogram() *latencyHistogram {
	return &latencyHistogram{samples: make([]float64, 0, 64)}
}

func (h *latencyHistogram) Observe(durationMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, durationMs)
	h.sum += durationMs
	h.sorted = false
}

// Percentile returns the value at percentile p (0–100) using linear
// interpolation between the two nearest ranks.
func (h *latencyHistogram) Percentile(p float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return 0
	}
	if !h.sorted {
		sort.Float64s(h.samples)
		h.sorted = true
	}
	if p <= 0 {
		return h.samples[0]
	}
	if p >= 100 {
		return h.samples[n-1]
	}

	// PERCENTILE.INC: rank = p/100 * (n-1)
	rank := (p / 100) * float64(n-1)
	lower := int(math.Floor(rank))
	upper := lower + 1
	if upper >= n {
		return h.samples[n-1]
	}
	frac := rank - float64(lower)
	return h.samples[lower] + frac*(h.samples[upper]-h.samples[lower])
}

func (h *latencyHistogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.samples))
}

func (h *latencyHistogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// compile-time interface checks
var (
	_ IntelligenceMetrics = (*prometheusIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*noopIntelligenceMetrics)(nil)
	_ IntelligenceMetrics = (*InMemoryIntelligenceMetrics)(nil)
	_ LatencyHistogram    = (*latencyHistogram)(nil)
)
