// Package metrics exports engine activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kingrea/searchflow/internal/workflow/engine"
	"github.com/kingrea/searchflow/internal/workflow/task"
)

const namespace = "searchflow"

// Metrics is an engine.Observer backed by a private registry.
type Metrics struct {
	registry     *prometheus.Registry
	passes       prometheus.Counter
	passFailures prometheus.Counter
	transitions  *prometheus.CounterVec
	tasks        *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "passes_total",
			Help:      "Number of scheduling passes run.",
		}),
		passFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pass_failures_total",
			Help:      "Number of task failures surfaced by scheduling passes.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "transitions_total",
			Help:      "Task state transitions by target state.",
		}, []string{"state"}),
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks currently in each state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(m.passes, m.passFailures, m.transitions, m.tasks)
	return m
}

// Track sets the state gauge from the current states of tasks. Call it once
// after the graph is built.
func (m *Metrics) Track(tasks []task.Task) {
	counts := map[task.State]int{}
	for _, t := range tasks {
		counts[t.State()]++
	}
	for _, s := range task.States() {
		m.tasks.WithLabelValues(Label(s)).Set(float64(counts[s]))
	}
}

// OnTransition implements engine.Observer.
func (m *Metrics) OnTransition(tr task.Transition) {
	m.transitions.WithLabelValues(Label(tr.To)).Inc()
	m.tasks.WithLabelValues(Label(tr.From)).Dec()
	m.tasks.WithLabelValues(Label(tr.To)).Inc()
}

// OnPass implements engine.Observer.
func (m *Metrics) OnPass(summary engine.PassSummary) {
	m.passes.Inc()
	m.passFailures.Add(float64(summary.Failed))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Label turns a state into a label value, e.g. "run_failed".
func Label(s task.State) string {
	return strings.ReplaceAll(strings.ToLower(s.String()), " ", "_")
}
