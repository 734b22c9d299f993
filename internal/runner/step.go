package runner

import (
	"time"
)

// Phase identifies one section of the pipeline. Phases execute in the
// fixed order returned by PhaseOrder; there is no dependency graph.
type Phase string

const (
	PhaseBeforeInstall Phase = "before_install"
	PhaseInstall       Phase = "install"
	PhaseScript        Phase = "script"
	PhaseAfterSuccess  Phase = "after_success"
	PhaseDocs          Phase = "docs"
	PhaseDeploy        Phase = "deploy"
)

// PhaseOrder returns the fixed execution order of pipeline phases.
func PhaseOrder() []Phase {
	return []Phase{PhaseBeforeInstall, PhaseInstall, PhaseScript, PhaseAfterSuccess, PhaseDocs, PhaseDeploy}
}

// Step is one shell command within a phase.
type Step struct {
	Phase   Phase
	Index   int
	Command string
}

// StepStatus describes the result of one step.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records the outcome of a single step.
type StepResult struct {
	Step     Step
	Status   StepStatus
	ExitCode int
	Duration time.Duration
	// OutputTail keeps the last portion of combined output for failure
	// reporting; full output goes to the logs as it streams.
	OutputTail string
	Err        error
}

// Outcome is the final status of a run.
type Outcome string

const (
	OutcomePassed   Outcome = "passed"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// RunResult aggregates everything recorded about one pipeline run.
type RunResult struct {
	RunID    string
	Branch   string
	Commit   string
	Runtime  string
	Outcome  Outcome
	Steps    []StepResult
	Coverage float64 // percent, negative when not collected
	Deployed bool
	Started  time.Time
	Finished time.Time
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// FailedStep returns the first failed step, if any.
func (r *RunResult) FailedStep() *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Status == StepFailed {
			return &r.Steps[i]
		}
	}
	return nil
}
