package prometheus

import (
	"runtime"
	"time"

	"github.com/turtacn/TrialScope/pkg/errors"
)

// AppMetrics holds the application-level series.  Per-module and scoring
// series live in internal/intelligence/common and share the same registry.
type AppMetrics struct {
	AnalysesTotal      CounterVec
	AnalysisDuration   HistogramVec
	DocumentPages      HistogramVec
	ModuleErrorsTotal  CounterVec
	ErrorsTotal        CounterVec
	ConfigReloadsTotal CounterVec
	BuildInfo          GaugeVec
}

// Default Buckets
var (
	DefaultAnalysisDurationBuckets = []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultPageBuckets             = []float64{1, 5, 10, 25, 50, 100, 200, 400}
)

// NewAppMetrics registers all application series on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	return &AppMetrics{
		AnalysesTotal: collector.RegisterCounter("analyses_total",
			"Documents analysed", "mode", "status"),
		AnalysisDuration: collector.RegisterHistogram("analysis_duration_seconds",
			"End-to-end analysis duration", DefaultAnalysisDurationBuckets, "mode"),
		DocumentPages: collector.RegisterHistogram("document_pages",
			"Pages per analysed document", DefaultPageBuckets),
		ModuleErrorsTotal: collector.RegisterCounter("module_errors_total",
			"Module failures reported alongside successful predictions", "module", "error_code"),
		ErrorsTotal: collector.RegisterCounter("errors_total",
			"Errors that aborted an operation", "component", "error_code"),
		ConfigReloadsTotal: collector.RegisterCounter("config_reloads_total",
			"Configuration hot reloads", "status"),
		BuildInfo: collector.RegisterGauge("build_info",
			"Build information; always 1", "version", "go_version"),
	}
}

// Helpers

// RecordAnalysis counts one analysed document.
func RecordAnalysis(m *AppMetrics, mode string, success bool, duration time.Duration, pages int) {
	if m == nil {
		return
	}
	m.AnalysesTotal.WithLabelValues(mode, statusLabel(success)).Inc()
	m.AnalysisDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.DocumentPages.WithLabelValues().Observe(float64(pages))
}

// RecordModuleError counts a module that failed inside an otherwise complete run.
func RecordModuleError(m *AppMetrics, module string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ModuleErrorsTotal.WithLabelValues(module, errors.GetCode(err).String()).Inc()
}

// RecordError counts an aborted operation by its error code.
func RecordError(m *AppMetrics, component string, err error) {
	if m == nil || err == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errors.GetCode(err).String()).Inc()
}

// RecordConfigReload counts a hot reload attempt.
func RecordConfigReload(m *AppMetrics, success bool) {
	if m == nil {
		return
	}
	m.ConfigReloadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(m *AppMetrics, version string) {
	if m == nil {
		return
	}
	m.BuildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
