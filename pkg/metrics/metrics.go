// Package metrics defines the Prometheus series exposed by both the
// manager and the agent and a thin timer helper for histogram
// observations, mirroring the teacher's metrics package shape.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts operations by type and terminal status.
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetops_operations_total",
			Help: "Total number of operations by type and terminal status",
		},
		[]string{"type", "status"},
	)

	// OperationDuration observes wall-clock time from start to terminal state.
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetops_operation_duration_seconds",
			Help:    "Operation duration in seconds by type",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		},
		[]string{"type"},
	)

	// LockBusyTotal counts rejected try_start calls.
	LockBusyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetops_lock_busy_total",
			Help: "Total number of operation starts rejected due to an open maintenance window",
		},
		[]string{"target"},
	)

	// HealthProbesTotal counts probe cycles by target and outcome.
	HealthProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetops_health_probes_total",
			Help: "Total number of health probes by target and healthy/unhealthy outcome",
		},
		[]string{"target", "healthy"},
	)

	// HealthProbeDuration observes RPC probe latency.
	HealthProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetops_health_probe_duration_seconds",
			Help:    "Health probe RPC latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"target"},
	)

	// AlertsSentTotal counts webhook deliveries attempted by severity.
	AlertsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetops_alerts_sent_total",
			Help: "Total number of alerts dispatched by severity",
		},
		[]string{"severity"},
	)

	// JobsActive reports the current size of the agent's job table.
	JobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetops_agent_jobs_active",
			Help: "Number of jobs currently tracked in the agent's job manager",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OperationsTotal,
		OperationDuration,
		LockBusyTotal,
		HealthProbesTotal,
		HealthProbeDuration,
		AlertsSentTotal,
		JobsActive,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
