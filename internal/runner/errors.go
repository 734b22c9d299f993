package runner

import "fmt"

// StepError reports the step whose non-zero exit halted the pipeline.
type StepError struct {
	Step     Step
	ExitCode int
	Cause    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s[%d] (%s) failed with exit code %d", e.Step.Phase, e.Step.Index, e.Step.Command, e.ExitCode)
}

func (e *StepError) Unwrap() error { return e.Cause }
