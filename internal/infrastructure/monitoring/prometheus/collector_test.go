package prometheus

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/TrialScope/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/TrialScope/internal/intelligence/common"
	apperrors "github.com/turtacn/TrialScope/pkg/errors"
)

func newTestCollector(t *testing.T) MetricsCollector {
	t.Helper()
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", Subsystem: "unit"}, logging.NewNopLogger())
	require.NoError(t, err)
	return c
}

func scrapeMetrics(t *testing.T, collector MetricsCollector) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, collector.WriteText(&buf))
	return buf.String()
}

func TestNewMetricsCollector_EmptyNamespace(t *testing.T) {
	_, err := NewMetricsCollector(CollectorConfig{Subsystem: "unit"}, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
}

func TestNewMetricsCollector_WithProcessMetrics(t *testing.T) {
	c, err := NewMetricsCollector(CollectorConfig{Namespace: "test", EnableProcessMetrics: true, EnableGoMetrics: true}, nil)
	require.NoError(t, err)
	output := scrapeMetrics(t, c)
	assert.Contains(t, output, "go_goroutines")
}

func TestRegisterCounter_WithLabels(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("analyses", "Analyses", "mode").WithLabelValues("parallel").Add(5)

	assert.Contains(t, scrapeMetrics(t, c), `test_unit_analyses{mode="parallel"} 5`)
}

func TestRegisterCounter_DuplicateSharesSeries(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("dup_counter", "help").WithLabelValues().Inc()
	c.RegisterCounter("dup_counter", "help").WithLabelValues().Inc()

	assert.Contains(t, scrapeMetrics(t, c), "test_unit_dup_counter 2")
}

func TestRegisterGauge_Success(t *testing.T) {
	c := newTestCollector(t)
	g := c.RegisterGauge("workers", "Workers")
	g.WithLabelValues().Set(10)
	g.WithLabelValues().Dec()

	assert.Contains(t, scrapeMetrics(t, c), "test_unit_workers 9")
}

func TestRegisterHistogram_DefaultBuckets(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterHistogram("latency", "Latency", nil).WithLabelValues().Observe(0.1)

	output := scrapeMetrics(t, c)
	assert.Contains(t, output, `test_unit_latency_bucket{le="0.1"} 1`)
	assert.Contains(t, output, "test_unit_latency_count 1")
}

func TestTypeConflictReturnsNoop(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("conflict", "help").WithLabelValues().Inc()

	assert.NotPanics(t, func() {
		c.RegisterGauge("conflict", "help").WithLabelValues().Set(10)
	})
	assert.Contains(t, scrapeMetrics(t, c), "# TYPE test_unit_conflict counter")
}

func TestTimer_MeasuresDuration(t *testing.T) {
	c := newTestCollector(t)
	timer := NewTimer(c.RegisterHistogram("timer_test", "Timer test", nil).WithLabelValues())
	time.Sleep(5 * time.Millisecond)
	d := timer.ObserveDuration()

	assert.GreaterOrEqual(t, d, 5*time.Millisecond)
	assert.Contains(t, scrapeMetrics(t, c), "test_unit_timer_test_count 1")
	assert.NotPanics(t, func() { NewTimer(nil).ObserveDuration() })
}

func TestConcurrentRegistration(t *testing.T) {
	c := newTestCollector(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RegisterCounter("concurrent_metric", "help", "id").WithLabelValues("1").Inc()
		}()
	}
	wg.Wait()

	assert.Contains(t, scrapeMetrics(t, c), `test_unit_concurrent_metric{id="1"} 50`)
}

func TestRegisterer_SharedWithIntelligenceMetrics(t *testing.T) {
	c := newTestCollector(t)
	im, err := common.NewPrometheusIntelligenceMetrics(c.Registerer(), "test")
	require.NoError(t, err)
	im.RecordModuleRun(context.Background(), &common.ModuleRunParams{Module: "phase", Mode: "parallel", DurationMs: 2, Success: true})

	assert.Contains(t, scrapeMetrics(t, c), "test_extraction_module_runs_total")
}

func TestWriteText(t *testing.T) {
	c := newTestCollector(t)
	c.RegisterCounter("dumped", "help").WithLabelValues().Inc()

	var buf bytes.Buffer
	require.NoError(t, c.WriteText(&buf))
	assert.Contains(t, buf.String(), "# TYPE test_unit_dumped counter")
	assert.Contains(t, buf.String(), "test_unit_dumped 1")
}
