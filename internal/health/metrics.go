package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Failover metrics
	failoverStartedTotal   *prometheus.CounterVec
	failoverCompletedTotal *prometheus.CounterVec
	failoverDuration       *prometheus.HistogramVec
	rollbackTotal          *prometheus.CounterVec
	stageTransitionsTotal  *prometheus.CounterVec

	// Probe metrics
	probeDuration *prometheus.HistogramVec
	probeStatus   *prometheus.GaugeVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// FailoverMetrics provides methods to record orchestration metrics.
type FailoverMetrics struct{}

// NewFailoverMetrics creates a new FailoverMetrics instance.
// Metrics are lazily registered on first use.
func NewFailoverMetrics() *FailoverMetrics {
	return &FailoverMetrics{}
}

// InitMetrics initializes all Prometheus metrics.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		failoverStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drops_failover_started_total",
				Help: "Total number of failover runs started",
			},
			[]string{"pair", "test_mode"},
		)

		failoverCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drops_failover_completed_total",
				Help: "Total number of failover runs reaching a terminal state",
			},
			[]string{"pair", "outcome"},
		)

		failoverDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drops_failover_duration_seconds",
				Help:    "Duration of failover runs in seconds",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 900},
			},
			[]string{"pair"},
		)

		rollbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drops_rollback_total",
				Help: "Total number of rollback passes",
			},
			[]string{"pair", "outcome"},
		)

		stageTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drops_stage_transitions_total",
				Help: "Total number of state machine transitions",
			},
			[]string{"pair", "from", "to"},
		)

		probeDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drops_probe_duration_seconds",
				Help:    "Duration of readiness probes in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"pair", "protocol"},
		)

		probeStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "drops_probe_status",
				Help: "Last probe status (1=healthy, 0=unhealthy)",
			},
			[]string{"pair", "protocol"},
		)

		metricsRegistered = true
	})
}

// RecordFailoverStarted records the start of a failover run.
func (m *FailoverMetrics) RecordFailoverStarted(pair string, testMode bool) {
	if !metricsRegistered || failoverStartedTotal == nil {
		return
	}
	mode := "false"
	if testMode {
		mode = "true"
	}
	failoverStartedTotal.WithLabelValues(pair, mode).Inc()
}

// RecordFailoverCompleted records a run reaching a terminal state.
func (m *FailoverMetrics) RecordFailoverCompleted(pair, outcome string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if failoverCompletedTotal != nil {
		failoverCompletedTotal.WithLabelValues(pair, outcome).Inc()
	}
	if failoverDuration != nil {
		failoverDuration.WithLabelValues(pair).Observe(durationSeconds)
	}
}

// RecordRollback records a rollback pass and its outcome.
func (m *FailoverMetrics) RecordRollback(pair, outcome string) {
	if !metricsRegistered || rollbackTotal == nil {
		return
	}
	rollbackTotal.WithLabelValues(pair, outcome).Inc()
}

// RecordStageTransition records one state machine transition.
func (m *FailoverMetrics) RecordStageTransition(pair, from, to string) {
	if !metricsRegistered || stageTransitionsTotal == nil {
		return
	}
	stageTransitionsTotal.WithLabelValues(pair, from, to).Inc()
}

// RecordProbe records a readiness probe result.
func (m *FailoverMetrics) RecordProbe(pair, protocol string, healthy bool, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if probeDuration != nil {
		probeDuration.WithLabelValues(pair, protocol).Observe(durationSeconds)
	}
	if probeStatus != nil {
		value := 0.0
		if healthy {
			value = 1.0
		}
		probeStatus.WithLabelValues(pair, protocol).Set(value)
	}
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
