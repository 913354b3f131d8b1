package metrics

import (
	"time"

	"github.com/viflex/platescan/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Session metrics
	SessionsActive  = "app_sessions_active"
	SessionsExpired = "app_sessions_expired_total"

	// History metrics
	HistoryWritesTotal = "app_history_writes_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
)

// SetActiveSessions sets the number of live workflow sessions held by the server
func SetActiveSessions(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			SessionsActive,
			float64(count),
			nil,
		)
	}
}

// RecordSessionsExpired counts sessions dropped by the idle sweep
func RecordSessionsExpired(count int) {
	if count <= 0 {
		return
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SessionsExpired,
			float64(count),
			nil,
		)
	}
}

// RecordHistoryWrite records a history insert
func RecordHistoryWrite(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HistoryWritesTotal,
			1,
			map[string]string{
				"status": status,
			},
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HealthCheckTotal,
			1,
			map[string]string{
				"check":  checkName,
				"status": status,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			HealthCheckDuration,
			duration,
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}
