package metrics

import "time"

// ResultLabel enumerates step result categories for counters.
type ResultLabel string

const (
	ResultSucceeded ResultLabel = "succeeded"
	ResultFailed    ResultLabel = "failed"
	ResultSkipped   ResultLabel = "skipped"
)

// OutcomeLabel enumerates final run outcomes.
type OutcomeLabel string

const (
	OutcomePassed   OutcomeLabel = "passed"
	OutcomeFailed   OutcomeLabel = "failed"
	OutcomeCanceled OutcomeLabel = "canceled"
)

// Recorder defines observability hooks for run and step metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc.
type Recorder interface {
	ObserveStepDuration(phase string, d time.Duration)
	ObserveRunDuration(d time.Duration)
	IncStepResult(phase string, result ResultLabel)
	IncRunOutcome(outcome OutcomeLabel)
	IncDeployRetry()
	IncCoverageUploadRetry()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

// NewNoopRecorder returns the default no-op recorder.
func NewNoopRecorder() NoopRecorder { return NoopRecorder{} }

func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) ObserveRunDuration(time.Duration)          {}
func (NoopRecorder) IncStepResult(string, ResultLabel)         {}
func (NoopRecorder) IncRunOutcome(OutcomeLabel)                {}
func (NoopRecorder) IncDeployRetry()                           {}
func (NoopRecorder) IncCoverageUploadRetry()                   {}
