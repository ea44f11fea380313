// Package metrics exports rotation step measurements to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/systmms/rotator/pkg/rotation"
)

var (
	stepStartedTotal   *prometheus.CounterVec
	stepCompletedTotal *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers the rotation metrics with the default registry. It is
// safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		stepStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_step_started_total",
				Help: "Total number of rotation step invocations started",
			},
			[]string{"step", "strategy"},
		)

		stepCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rotator_step_completed_total",
				Help: "Total number of rotation step invocations completed, by action and result",
			},
			[]string{"step", "strategy", "action", "result"},
		)

		stepDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rotator_step_duration_seconds",
				Help:    "Duration of rotation step invocations in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"step"},
		)

		metricsRegistered = true
	})
}

// StepMetrics implements rotation.Metrics on the registered collectors.
type StepMetrics struct{}

var _ rotation.Metrics = (*StepMetrics)(nil)

// New registers the collectors if needed and returns a recorder.
func New() *StepMetrics {
	InitMetrics()
	return &StepMetrics{}
}

// StepStarted records the start of an invocation.
func (m *StepMetrics) StepStarted(step rotation.Step, strategy string) {
	if !metricsRegistered {
		return
	}
	stepStartedTotal.WithLabelValues(stepLabel(step), strategy).Inc()
}

// StepCompleted records the end of an invocation. The result label is
// "success" or the error kind.
func (m *StepMetrics) StepCompleted(step rotation.Step, strategy string, action rotation.Action, err error, duration time.Duration) {
	if !metricsRegistered {
		return
	}

	result := "success"
	if err != nil {
		result = rotation.KindOf(err).String()
	}
	actionLabel := string(action)
	if actionLabel == "" {
		actionLabel = "none"
	}

	stepCompletedTotal.WithLabelValues(stepLabel(step), strategy, actionLabel, result).Inc()
	stepDuration.WithLabelValues(stepLabel(step)).Observe(duration.Seconds())
}

// stepLabel bounds label cardinality: requests may name arbitrary steps.
func stepLabel(step rotation.Step) string {
	if step.Valid() {
		return string(step)
	}
	return "unknown"
}

// GetStepStartedTotal returns the started counter for testing.
func GetStepStartedTotal() *prometheus.CounterVec {
	return stepStartedTotal
}

// GetStepCompletedTotal returns the completed counter for testing.
func GetStepCompletedTotal() *prometheus.CounterVec {
	return stepCompletedTotal
}

// GetStepDuration returns the duration histogram for testing.
func GetStepDuration() *prometheus.HistogramVec {
	return stepDuration
}

// IsMetricsRegistered reports whether InitMetrics has run.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
