// Package runner executes a pipeline descriptor: all declared steps, in
// phase order, strictly sequentially on a single worker. The first
// non-zero exit halts the pipeline; remaining steps are recorded as
// skipped.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/logfields"
	"git.home.luguber.info/inful/cirunner/internal/metrics"
	"git.home.luguber.info/inful/cirunner/internal/observability"
)

// DocsBuilder builds the documentation site during the docs phase.
type DocsBuilder interface {
	Build(ctx context.Context) error
}

// Deployer publishes built output during the deploy phase. It returns
// false when its conditions did not hold (a skip, not a failure).
type Deployer interface {
	Deploy(ctx context.Context, run *RunResult) (bool, error)
}

// CoverageChecker parses and gates the coverage artifact after the
// script phase. It returns the covered percentage.
type CoverageChecker interface {
	Check(ctx context.Context) (float64, error)
}

// Runner sequences one pipeline run.
type Runner struct {
	cfg      *config.Pipeline
	dir      string
	runID    string
	branch   string
	commit   string
	recorder metrics.Recorder
	docs     DocsBuilder
	deployer Deployer
	coverage CoverageChecker
}

// Option configures a Runner.
type Option func(*Runner)

// WithCheckoutInfo sets the branch and commit the run executes against.
func WithCheckoutInfo(branch, commit string) Option {
	return func(r *Runner) {
		r.branch = branch
		r.commit = commit
	}
}

// WithRunID overrides the generated run identifier so callers can
// attach the same ID to artifacts created outside the runner.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithDocsBuilder sets the docs phase implementation.
func WithDocsBuilder(b DocsBuilder) Option {
	return func(r *Runner) { r.docs = b }
}

// WithDeployer sets the deploy phase implementation.
func WithDeployer(d Deployer) Option {
	return func(r *Runner) { r.deployer = d }
}

// WithCoverageChecker sets the coverage gate run after the script phase.
func WithCoverageChecker(c CoverageChecker) Option {
	return func(r *Runner) { r.coverage = c }
}

// New creates a runner for the descriptor, executing in dir.
func New(cfg *config.Pipeline, dir string, options ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		dir:      dir,
		recorder: metrics.NewNoopRecorder(),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// shellPhases returns the descriptor's command lists keyed by phase.
func (r *Runner) shellPhases() map[Phase][]string {
	return map[Phase][]string{
		PhaseBeforeInstall: r.cfg.BeforeInstall,
		PhaseInstall:       r.cfg.Install,
		PhaseScript:        r.cfg.Script,
		PhaseAfterSuccess:  r.cfg.AfterSuccess,
	}
}

// Run executes the pipeline once. The returned RunResult is complete
// even when err is non-nil; err reports why the run did not pass.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	runID := r.runID
	if runID == "" {
		runID = uuid.NewString()
	}

	result := &RunResult{
		RunID:    runID,
		Branch:   r.branch,
		Commit:   r.commit,
		Runtime:  r.cfg.Runtime.Version,
		Outcome:  OutcomePassed,
		Coverage: -1,
		Started:  time.Now(),
	}

	ctx = observability.WithRunID(ctx, result.RunID)
	if r.branch != "" {
		ctx = observability.WithBranch(ctx, r.branch)
	}

	observability.InfoContext(ctx, "Starting pipeline run",
		logfields.Runtime(result.Runtime))

	// Runtime gating happens before any step runs.
	if r.cfg.Runtime.Version != "" && !r.cfg.Runtime.Accepts(r.cfg.Runtime.Version) {
		result.Outcome = OutcomeFailed
		result.Finished = time.Now()
		err := fmt.Errorf("runtime version %s not accepted by descriptor", r.cfg.Runtime.Version)
		r.finish(ctx, result)
		return result, err
	}

	err := r.runPhases(ctx, result)

	result.Finished = time.Now()
	r.finish(ctx, result)
	return result, err
}

func (r *Runner) runPhases(ctx context.Context, result *RunResult) error {
	commands := r.shellPhases()
	var failure error

	for _, phase := range PhaseOrder() {
		phaseCtx := observability.WithPhase(ctx, string(phase))

		// After a failure every remaining step is recorded as skipped.
		if failure != nil {
			r.skipPhase(result, phase, commands[phase])
			continue
		}

		select {
		case <-ctx.Done():
			result.Outcome = OutcomeCanceled
			failure = ctx.Err()
			r.skipPhase(result, phase, commands[phase])
			continue
		default:
		}

		switch phase {
		case PhaseBeforeInstall, PhaseInstall, PhaseScript, PhaseAfterSuccess:
			if err := r.runShellPhase(phaseCtx, result, phase, commands[phase]); err != nil {
				failure = err
				if ctx.Err() != nil {
					result.Outcome = OutcomeCanceled
				} else {
					result.Outcome = OutcomeFailed
				}
				continue
			}
			if phase == PhaseScript {
				if err := r.checkCoverage(phaseCtx, result); err != nil {
					failure = err
					result.Outcome = OutcomeFailed
				}
			}
		case PhaseDocs:
			if err := r.runDocsPhase(phaseCtx, result); err != nil {
				failure = err
				result.Outcome = OutcomeFailed
			}
		case PhaseDeploy:
			if err := r.runDeployPhase(phaseCtx, result); err != nil {
				failure = err
				result.Outcome = OutcomeFailed
			}
		}
	}

	return failure
}

func (r *Runner) runShellPhase(ctx context.Context, result *RunResult, phase Phase, cmds []string) error {
	for i, command := range cmds {
		select {
		case <-ctx.Done():
			r.recordSkip(result, Step{Phase: phase, Index: i, Command: command})
			return ctx.Err()
		default:
		}

		step := Step{Phase: phase, Index: i, Command: command}
		observability.InfoContext(ctx, "Running step",
			logfields.Step(i),
			logfields.Command(command))

		stepResult := execStep(ctx, step, r.dir, r.environ(result), r.cfg.StepTimeout.Std())
		result.Steps = append(result.Steps, stepResult)
		r.recordStep(stepResult)

		if stepResult.Status == StepFailed {
			observability.ErrorContext(ctx, "Step failed",
				logfields.Step(i),
				logfields.Command(command),
				logfields.ExitCode(stepResult.ExitCode),
				logfields.Error(stepResult.Err))
			// Skip the rest of this phase.
			for j := i + 1; j < len(cmds); j++ {
				r.recordSkip(result, Step{Phase: phase, Index: j, Command: cmds[j]})
			}
			return &StepError{Step: step, ExitCode: stepResult.ExitCode, Cause: stepResult.Err}
		}

		observability.DebugContext(ctx, "Step completed",
			logfields.Step(i),
			logfields.DurationMS(float64(stepResult.Duration.Milliseconds())))
	}
	return nil
}

func (r *Runner) checkCoverage(ctx context.Context, result *RunResult) error {
	if r.coverage == nil {
		return nil
	}
	percent, err := r.coverage.Check(ctx)
	if err != nil {
		observability.ErrorContext(ctx, "Coverage gate failed", logfields.Error(err))
		return fmt.Errorf("coverage gate: %w", err)
	}
	result.Coverage = percent
	observability.InfoContext(ctx, "Coverage collected",
		logfields.Outcome(fmt.Sprintf("%.1f%%", percent)))
	return nil
}

func (r *Runner) runDocsPhase(ctx context.Context, result *RunResult) error {
	if r.docs == nil {
		return nil
	}
	step := Step{Phase: PhaseDocs, Command: "(docs build)"}
	observability.InfoContext(ctx, "Building documentation")

	started := time.Now()
	err := r.docs.Build(ctx)
	stepResult := StepResult{Step: step, Duration: time.Since(started)}

	if err != nil {
		stepResult.Status = StepFailed
		stepResult.ExitCode = -1
		stepResult.Err = err
		result.Steps = append(result.Steps, stepResult)
		r.recordStep(stepResult)
		return fmt.Errorf("docs build: %w", err)
	}

	stepResult.Status = StepSucceeded
	result.Steps = append(result.Steps, stepResult)
	r.recordStep(stepResult)
	return nil
}

func (r *Runner) runDeployPhase(ctx context.Context, result *RunResult) error {
	if r.deployer == nil {
		return nil
	}
	step := Step{Phase: PhaseDeploy, Command: "(deploy)"}

	started := time.Now()
	deployed, err := r.deployer.Deploy(ctx, result)
	stepResult := StepResult{Step: step, Duration: time.Since(started)}

	if err != nil {
		stepResult.Status = StepFailed
		stepResult.ExitCode = -1
		stepResult.Err = err
		result.Steps = append(result.Steps, stepResult)
		r.recordStep(stepResult)
		return fmt.Errorf("deploy: %w", err)
	}

	if !deployed {
		// Unmet conditions are a recorded skip, not a failure.
		stepResult.Status = StepSkipped
		result.Steps = append(result.Steps, stepResult)
		r.recordStep(stepResult)
		observability.InfoContext(ctx, "Deploy skipped (conditions not met)")
		return nil
	}

	stepResult.Status = StepSucceeded
	result.Steps = append(result.Steps, stepResult)
	result.Deployed = true
	r.recordStep(stepResult)
	return nil
}

func (r *Runner) skipPhase(result *RunResult, phase Phase, cmds []string) {
	switch phase {
	case PhaseDocs:
		if r.docs != nil {
			r.recordSkip(result, Step{Phase: phase, Command: "(docs build)"})
		}
	case PhaseDeploy:
		if r.deployer != nil {
			r.recordSkip(result, Step{Phase: phase, Command: "(deploy)"})
		}
	default:
		for i, command := range cmds {
			r.recordSkip(result, Step{Phase: phase, Index: i, Command: command})
		}
	}
}

func (r *Runner) recordSkip(result *RunResult, step Step) {
	stepResult := StepResult{Step: step, Status: StepSkipped}
	result.Steps = append(result.Steps, stepResult)
	r.recordStep(stepResult)
}

func (r *Runner) recordStep(sr StepResult) {
	r.recorder.ObserveStepDuration(string(sr.Step.Phase), sr.Duration)
	r.recorder.IncStepResult(string(sr.Step.Phase), metrics.ResultLabel(sr.Status))
}

func (r *Runner) finish(ctx context.Context, result *RunResult) {
	r.recorder.ObserveRunDuration(result.Duration())
	r.recorder.IncRunOutcome(metrics.OutcomeLabel(result.Outcome))

	observability.InfoContext(ctx, "Pipeline run finished",
		logfields.Outcome(string(result.Outcome)),
		logfields.DurationMS(float64(result.Duration().Milliseconds())))
}

// environ merges the process environment, descriptor env, and per-run
// metadata variables.
func (r *Runner) environ(result *RunResult) []string {
	env := os.Environ()
	for k, v := range r.cfg.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"CI=true",
		"CI_RUN_ID="+result.RunID,
		"CI_BRANCH="+result.Branch,
		"CI_RUNTIME_VERSION="+result.Runtime,
	)
	return env
}
