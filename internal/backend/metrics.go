package backend

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics are registered on a per-server registry so several servers can
// coexist in one process.
type metrics struct {
	registry *prometheus.Registry
	turns    *prometheus.CounterVec
	uploads  prometheus.Counter
	expired  prometheus.Counter
	limited  prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatmancer_turns_total",
			Help: "Chat turns handled, by the step the participant was on.",
		}, []string{"step"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatmancer_uploads_total",
			Help: "Context documents uploaded.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatmancer_documents_expired_total",
			Help: "Context documents cleared by the expiry sweep.",
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatmancer_rate_limited_total",
			Help: "Requests rejected by the per-client rate limit.",
		}),
	}
	m.registry.MustRegister(m.turns, m.uploads, m.expired, m.limited)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
