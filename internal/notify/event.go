package notify

import (
	"time"

	"git.home.luguber.info/inful/cirunner/internal/runner"
)

// Event subjects appended to the configured base subject.
const (
	EventRunStarted  = "run.started"
	EventRunFinished = "run.finished"
)

// RunEvent is the JSON payload published for run lifecycle events.
type RunEvent struct {
	Type       string    `json:"type"` // run.started or run.finished
	RunID      string    `json:"run_id"`
	Branch     string    `json:"branch,omitempty"`
	Commit     string    `json:"commit,omitempty"`
	Runtime    string    `json:"runtime,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`     // only on run.finished
	FailedStep string    `json:"failed_step,omitempty"` // "phase: command" of the first failed step
	Coverage   float64   `json:"coverage,omitempty"`    // percent, only when collected
	Deployed   bool      `json:"deployed,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// startedEvent builds the run.started payload. The run ID matches the
// later run.finished event so consumers can correlate the pair.
func startedEvent(runID, branch, commit, runtime string) RunEvent {
	return RunEvent{
		Type:      EventRunStarted,
		RunID:     runID,
		Branch:    branch,
		Commit:    commit,
		Runtime:   runtime,
		Timestamp: time.Now(),
	}
}

// finishedEvent builds the run.finished payload from a completed run.
func finishedEvent(run *runner.RunResult) RunEvent {
	e := RunEvent{
		Type:       EventRunFinished,
		RunID:      run.RunID,
		Branch:     run.Branch,
		Commit:     run.Commit,
		Runtime:    run.Runtime,
		Outcome:    string(run.Outcome),
		Deployed:   run.Deployed,
		DurationMS: run.Duration().Milliseconds(),
		Timestamp:  time.Now(),
	}
	if run.Coverage >= 0 {
		e.Coverage = run.Coverage
	}
	if failed := run.FailedStep(); failed != nil {
		e.FailedStep = string(failed.Step.Phase) + ": " + failed.Step.Command
	}
	return e
}
