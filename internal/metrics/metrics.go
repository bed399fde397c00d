// Package metrics exposes the coordinator's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts signing sessions by outcome. A session is started when the
// coordinator opens round 1 and ends exactly once: completed, or aborted with
// the failure kind as label.
type Metrics struct {
	registry *prometheus.Registry

	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsAborted   *prometheus.CounterVec
	WalletsCreated    prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mpc_signing_sessions_started_total",
			Help: "Signing sessions the coordinator has opened.",
		}),
		SessionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mpc_signing_sessions_completed_total",
			Help: "Signing sessions that ended with a broadcast transaction.",
		}),
		SessionsAborted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mpc_signing_sessions_aborted_total",
			Help: "Signing sessions that ended in an abort, by failure kind.",
		}, []string{"kind"}),
		WalletsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "mpc_wallets_created_total",
			Help: "Wallets provisioned across both key-share services.",
		}),
	}
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
