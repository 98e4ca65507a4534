package metrics

import (
	"time"

	"mercator-hq/sextant/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkflowMetrics tracks step execution.
//
// Metrics:
//   - sextant_workflow_steps_total: steps by mode, step id and status
//   - sextant_workflow_step_tokens_total: generation tokens charged per step
//   - sextant_workflow_step_duration_seconds: step latency
//   - sextant_workflow_branches_total: conditional node outcomes
type WorkflowMetrics struct {
	stepsTotal   *prometheus.CounterVec
	stepTokens   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	branches     *prometheus.CounterVec
}

// NewWorkflowMetrics creates and registers workflow metrics.
func NewWorkflowMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *WorkflowMetrics {
	wm := &WorkflowMetrics{
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "workflow",
				Name:      "steps_total",
				Help:      "Workflow steps by mode, step and status",
			},
			[]string{"mode", "step", "status"},
		),
		stepTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "workflow",
				Name:      "step_tokens_total",
				Help:      "Generation tokens charged to steps",
			},
			[]string{"mode", "step"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "workflow",
				Name:      "step_duration_seconds",
				Help:      "Workflow step duration in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"mode", "step"},
		),
		branches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "workflow",
				Name:      "branches_total",
				Help:      "Conditional node outcomes",
			},
			[]string{"mode", "taken"},
		),
	}

	registry.MustRegister(wm.stepsTotal, wm.stepTokens, wm.stepDuration, wm.branches)
	return wm
}

// Record records one finished step.
func (wm *WorkflowMetrics) Record(mode, step, status string, tokens int, duration time.Duration) {
	wm.stepsTotal.WithLabelValues(mode, step, status).Inc()
	if tokens > 0 {
		wm.stepTokens.WithLabelValues(mode, step).Add(float64(tokens))
	}
	wm.stepDuration.WithLabelValues(mode, step).Observe(duration.Seconds())
}
