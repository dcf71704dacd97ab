// Package metrics exposes process counters for gate decisions and copilot
// activity on a private Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry      *prometheus.Registry
	GateDecisions *prometheus.CounterVec
	Intents       *prometheus.CounterVec
	ToolResults   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcgate",
			Name:      "gate_decisions_total",
			Help:      "Stage gate checks by target stage and outcome.",
		}, []string{"target", "outcome"}),
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcgate",
			Name:      "copilot_intents_total",
			Help:      "Classified copilot messages by intent.",
		}, []string{"intent"}),
		ToolResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plcgate",
			Name:      "copilot_tool_results_total",
			Help:      "Executed copilot tools by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
	m.Registry.MustRegister(
		m.GateDecisions,
		m.Intents,
		m.ToolResults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gate outcomes.
const (
	OutcomeAllowed    = "allowed"
	OutcomeOverridden = "overridden"
	OutcomeBlocked    = "blocked"
	OutcomeOK         = "ok"
	OutcomeError      = "error"
)

// ObserveGate is nil-safe so engines built without metrics still work.
func (m *Metrics) ObserveGate(target, outcome string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) ObserveIntent(intent string) {
	if m == nil {
		return
	}
	m.Intents.WithLabelValues(intent).Inc()
}

func (m *Metrics) ObserveTool(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolResults.WithLabelValues(tool, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
