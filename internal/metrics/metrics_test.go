package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveGate("Growth", OutcomeBlocked)
	m.ObserveGate("Growth", OutcomeBlocked)
	m.ObserveIntent("create_issue")
	m.ObserveTool("search_issues", OutcomeOK)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues("Growth", OutcomeBlocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Intents.WithLabelValues("create_issue")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolResults.WithLabelValues("search_issues", OutcomeOK)))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGate("Growth", OutcomeAllowed)
		m.ObserveIntent("x")
		m.ObserveTool("x", OutcomeError)
	})
}
