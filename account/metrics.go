package account

import (
	"github.com/andrebq/doorman/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	Metrics struct {
		events   *prometheus.CounterVec
		failures *prometheus.CounterVec
	}
)

// NewMetrics registers the account counters on reg. A nil reg keeps the
// counters unregistered, which is handy for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doorman",
			Name:      "auth_events_total",
			Help:      "Login ledger entries appended, by provider and action.",
		}, []string{"provider", "action"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doorman",
			Name:      "auth_failures_total",
			Help:      "Rejected local authentication attempts, by reason.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) event(p ledger.Provider, a ledger.Action) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(p), string(a)).Inc()
}

func (m *Metrics) failure(reason string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(reason).Inc()
}
