// ABOUTME: Prometheus metrics for the edge relay.
// ABOUTME: Call counters by outcome, call latency, and a live-session gauge.

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics tracks relay activity. All metrics register against the server's
// private registry so tests can build servers without collisions.
type metrics struct {
	// RelayCalls counts /relay requests by outcome.
	// Labels: status (ok|tool_error|unauthorized|bad_request|offline|timeout|superseded)
	RelayCalls *prometheus.CounterVec

	// CallDuration measures end-to-end relay call latency in seconds.
	CallDuration prometheus.Histogram

	// LiveSessions gauges currently connected daemon sessions.
	LiveSessions prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		RelayCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "oakrelay_calls_total",
			Help: "Relayed tool calls by outcome.",
		}, []string{"status"}),
		CallDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "oakrelay_call_duration_seconds",
			Help:    "End-to-end latency of relayed tool calls.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		LiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oakrelay_live_sessions",
			Help: "Number of currently connected daemon sessions.",
		}),
	}
}
