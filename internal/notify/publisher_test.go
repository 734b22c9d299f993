package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cirunner/internal/config"
	"git.home.luguber.info/inful/cirunner/internal/runner"
)

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	p.RunStarted("run-1", "master", "abc", "3.6")
	p.RunFinished(&runner.RunResult{RunID: "run-1", Coverage: -1})
	p.Close()
}

func TestNewPublisher_UnreachableServer(t *testing.T) {
	_, err := NewPublisher(&config.NotificationsConfig{
		NATSURL: "nats://127.0.0.1:1",
		Subject: "ci.runs",
	})
	require.Error(t, err)
}

func TestNewPublisher_RequiresConfig(t *testing.T) {
	_, err := NewPublisher(nil)
	require.Error(t, err)
}

func TestFinishedEvent_Payload(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	run := &runner.RunResult{
		RunID:    "run-1",
		Branch:   "master",
		Commit:   "abc123",
		Runtime:  "3.6",
		Outcome:  runner.OutcomePassed,
		Coverage: 81.5,
		Deployed: true,
		Started:  started,
		Finished: started.Add(90 * time.Second),
	}

	e := finishedEvent(run)
	require.Equal(t, EventRunFinished, e.Type)
	require.Equal(t, "run-1", e.RunID)
	require.Equal(t, string(runner.OutcomePassed), e.Outcome)
	require.InDelta(t, 81.5, e.Coverage, 0.001)
	require.True(t, e.Deployed)
	require.Equal(t, int64(90000), e.DurationMS)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"run.finished"`)
	require.Contains(t, string(data), `"run_id":"run-1"`)
}

func TestFinishedEvent_NamesFailedStep(t *testing.T) {
	run := &runner.RunResult{
		RunID:    "run-1",
		Outcome:  runner.OutcomeFailed,
		Coverage: -1,
		Steps: []runner.StepResult{
			{Step: runner.Step{Phase: runner.PhaseInstall, Command: "pip install ."}, Status: runner.StepSucceeded},
			{Step: runner.Step{Phase: runner.PhaseScript, Command: "pytest"}, Status: runner.StepFailed, ExitCode: 1},
		},
	}
	e := finishedEvent(run)
	require.Equal(t, "script: pytest", e.FailedStep)
}

func TestFinishedEvent_OmitsAbsentCoverage(t *testing.T) {
	e := finishedEvent(&runner.RunResult{RunID: "run-1", Coverage: -1})
	require.Zero(t, e.Coverage)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	require.NotContains(t, string(data), "coverage")
}

func TestStartedEvent_Payload(t *testing.T) {
	e := startedEvent("run-1", "master", "abc123", "3.6")
	require.Equal(t, EventRunStarted, e.Type)
	require.Equal(t, "master", e.Branch)
	// Same ID as the finished event, so consumers can pair them.
	require.Equal(t, "run-1", e.RunID)
}
