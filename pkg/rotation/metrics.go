package rotation

import "time"

// Metrics receives per-invocation measurements.
type Metrics interface {
	StepStarted(step Step, strategy string)
	StepCompleted(step Step, strategy string, action Action, err error, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) StepStarted(Step, string) {}

func (noopMetrics) StepCompleted(Step, string, Action, error, time.Duration) {}
