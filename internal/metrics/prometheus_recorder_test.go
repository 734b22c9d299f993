package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_RegistersAndCounts(t *testing.T) {
	reg := prom.NewRegistry()
	rec := NewPrometheusRecorder(reg)

	rec.ObserveStepDuration("script", 2*time.Second)
	rec.ObserveRunDuration(5 * time.Second)
	rec.IncStepResult("script", ResultSucceeded)
	rec.IncStepResult("deploy", ResultSkipped)
	rec.IncRunOutcome(OutcomePassed)
	rec.IncDeployRetry()
	rec.IncCoverageUploadRetry()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["cirunner_step_duration_seconds"])
	require.True(t, names["cirunner_run_duration_seconds"])
	require.True(t, names["cirunner_step_results_total"])
	require.True(t, names["cirunner_run_outcomes_total"])
	require.True(t, names["cirunner_deploy_retries_total"])
	require.True(t, names["cirunner_coverage_upload_retries_total"])
}

func TestPrometheusRecorder_NilSafe(t *testing.T) {
	var rec *PrometheusRecorder
	rec.ObserveStepDuration("script", time.Second)
	rec.ObserveRunDuration(time.Second)
	rec.IncStepResult("script", ResultFailed)
	rec.IncRunOutcome(OutcomeFailed)
	rec.IncDeployRetry()
	rec.IncCoverageUploadRetry()
}

func TestNoopRecorderImplementsRecorder(t *testing.T) {
	var _ Recorder = NewNoopRecorder()
	var _ Recorder = NewPrometheusRecorder(nil)
}
