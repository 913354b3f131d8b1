package metrics

import (
	"time"

	"github.com/viflex/platescan/internal/observability"
)

// Workflow metric names
const (
	AnalysesTotal           = "analyses_total"
	AnalysisDuration        = "analysis_duration_ms"
	CapturesTotal           = "captures_total"
	SelectionsTotal         = "selections_total"
	SelectionsRejectedTotal = "selections_rejected_total"
	StaleResponsesTotal     = "analysis_stale_responses_total"
)

// RecordAnalysis records one webhook round trip. kind is empty on success.
func RecordAnalysis(kind string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	outcome := "success"
	if kind != "" {
		outcome = "failure"
	} else {
		kind = "none"
	}
	_ = observability.TelemetrySystem.Counter(
		AnalysesTotal,
		1,
		map[string]string{
			"outcome": outcome,
			"kind":    kind,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		AnalysisDuration,
		duration,
		map[string]string{
			"outcome": outcome,
		},
	)
}

// RecordStaleResponse counts a response dropped because the selection changed.
func RecordStaleResponse() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(StaleResponsesTotal, 1, nil)
	}
}

// RecordCapture records a finished capture session by source kind.
func RecordCapture(source string, outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CapturesTotal,
			1,
			map[string]string{
				"source":  source,
				"outcome": outcome,
			},
		)
	}
}

// RecordSelection records an accepted image selection.
func RecordSelection(mimeType string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SelectionsTotal,
			1,
			map[string]string{
				"mime_type": mimeType,
			},
		)
	}
}

// RecordSelectionRejected records an image refused at selection time.
func RecordSelectionRejected(reason string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SelectionsRejectedTotal,
			1,
			map[string]string{
				"reason": reason,
			},
		)
	}
}
