package metrics

import (
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viflex/platescan/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() {
		observability.TelemetrySystem = original
	})
	return collector
}

func TestWorkflowMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	RecordAnalysis("", 120*time.Millisecond)
	RecordAnalysis("http_status", 40*time.Millisecond)
	RecordStaleResponse()
	RecordCapture("stream", "confirmed")
	RecordSelection("image/jpeg")
	RecordSelectionRejected("too_large")

	assert.Positive(t, collector.CountMetricsByName(AnalysesTotal))
	assert.Positive(t, collector.CountMetricsByName(AnalysisDuration))
	assert.Positive(t, collector.CountMetricsByName(StaleResponsesTotal))
	assert.Positive(t, collector.CountMetricsByName(CapturesTotal))
	assert.Positive(t, collector.CountMetricsByName(SelectionsTotal))
	assert.Positive(t, collector.CountMetricsByName(SelectionsRejectedTotal))
}

func TestAppMetrics(t *testing.T) {
	collector := setupTelemetry(t)

	SetActiveSessions(3)
	RecordSessionsExpired(0)
	RecordSessionsExpired(2)
	RecordHistoryWrite(true)
	RecordHealthCheck("history", true, time.Millisecond)
	RecordError("NOT_FOUND", 404)
	RecordPanic()

	assert.Positive(t, collector.CountMetricsByName(SessionsActive))
	assert.Positive(t, collector.CountMetricsByName(SessionsExpired))
	assert.Positive(t, collector.CountMetricsByName(HistoryWritesTotal))
	assert.Positive(t, collector.CountMetricsByName(HealthCheckTotal))
	assert.Positive(t, collector.CountMetricsByName(ErrorsTotalName))
	assert.Positive(t, collector.CountMetricsByName(PanicsTotalName))
}

func TestMetricsWithoutTelemetry(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	assert.NotPanics(t, func() {
		RecordAnalysis("network", time.Second)
		SetActiveSessions(1)
		RecordHistoryWrite(false)
	})
}
