package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/opsfocus/internal/signal"
)

// Metrics holds Prometheus metrics for operator actions.
type Metrics struct {
	ModeChanges   *prometheus.CounterVec
	Selections    *prometheus.CounterVec
	StaleDiscards prometheus.Counter
	Failures      prometheus.Counter
}

// NewMetrics registers and returns dashboard metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ModeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsfocus_focus_mode_changes_total",
			Help: "Focus mode changes by target mode.",
		}, []string{"mode"}),
		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opsfocus_selections_total",
			Help: "Signal selections by result.",
		}, []string{"result"}),
		StaleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsfocus_triage_stale_discards_total",
			Help: "Triage results dropped because the selection moved on.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opsfocus_triage_failed_total",
			Help: "Triage requests that ended in the failed state.",
		}),
	}
	reg.MustRegister(m.ModeChanges, m.Selections, m.StaleDiscards, m.Failures)
	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnModeChange: func(_, to signal.FocusMode) {
			m.ModeChanges.WithLabelValues(string(to)).Inc()
		},
		OnSelect: func(found bool) {
			result := "found"
			if !found {
				result = "unknown"
			}
			m.Selections.WithLabelValues(result).Inc()
		},
		OnStaleDiscard: func() { m.StaleDiscards.Inc() },
		OnFailed:       func() { m.Failures.Inc() },
	}
}
