package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once                  sync.Once
	stepDuration          *prom.HistogramVec
	runDuration           prom.Histogram
	stepResults           *prom.CounterVec
	runOutcome            *prom.CounterVec
	deployRetries         prom.Counter
	coverageUploadRetries prom.Counter
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "cirunner",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual pipeline steps",
			Buckets:   prom.DefBuckets,
		}, []string{"phase"})
		pr.runDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "cirunner",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline run duration",
			Buckets:   prom.DefBuckets,
		})
		pr.stepResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cirunner",
			Name:      "step_results_total",
			Help:      "Step result counts by outcome",
		}, []string{"phase", "result"})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "cirunner",
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"})
		pr.deployRetries = prom.NewCounter(prom.CounterOpts{
			Namespace: "cirunner",
			Name:      "deploy_retries_total",
			Help:      "Total deploy push retries (transient failures)",
		})
		pr.coverageUploadRetries = prom.NewCounter(prom.CounterOpts{
			Namespace: "cirunner",
			Name:      "coverage_upload_retries_total",
			Help:      "Total coverage upload retries (transient failures)",
		})
		reg.MustRegister(pr.stepDuration, pr.runDuration, pr.stepResults, pr.runOutcome, pr.deployRetries, pr.coverageUploadRetries)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(phase string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveRunDuration(d time.Duration) {
	if p == nil || p.runDuration == nil {
		return
	}
	p.runDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStepResult(phase string, result ResultLabel) {
	if p == nil || p.stepResults == nil {
		return
	}
	p.stepResults.WithLabelValues(phase, string(result)).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome OutcomeLabel) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncDeployRetry() {
	if p == nil || p.deployRetries == nil {
		return
	}
	p.deployRetries.Inc()
}

func (p *PrometheusRecorder) IncCoverageUploadRetry() {
	if p == nil || p.coverageUploadRetries == nil {
		return
	}
	p.coverageUploadRetries.Inc()
}
