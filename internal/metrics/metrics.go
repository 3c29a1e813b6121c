// Package metrics exposes prometheus collectors for the orchestration
// engine and the background services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tideline-labs/tideline-go/internal/orchestration"
)

// Registry implements the Metrics interfaces consumed by the engine, the
// loop primitive, and the scheduler.
type Registry struct {
	transitions    *prometheus.CounterVec
	loopIterations *prometheus.CounterVec
	scheduledRuns  prometheus.Counter
}

func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tideline_transitions_total",
				Help: "Transition attempts evaluated by the orchestration engine, by outcome.",
			},
			[]string{"outcome"},
		),
		loopIterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tideline_loop_iterations_total",
				Help: "Loop service iterations, by loop and result.",
			},
			[]string{"loop", "result"},
		),
		scheduledRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tideline_scheduled_runs_created_total",
				Help: "Runs materialized by the scheduler service.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(r.transitions, r.loopIterations, r.scheduledRuns)
	}
	return r
}

func (r *Registry) TransitionEvaluated(kind orchestration.OutcomeKind) {
	r.transitions.WithLabelValues(string(kind)).Inc()
}

func (r *Registry) LoopIteration(name string, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	r.loopIterations.WithLabelValues(name, result).Inc()
}

func (r *Registry) RunsScheduled(created int) {
	if created > 0 {
		r.scheduledRuns.Add(float64(created))
	}
}
