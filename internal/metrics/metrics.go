package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OutboundRequests counts calls to backend agents by outcome
	// (ok, auth_required, validation, status, transport, timeout).
	OutboundRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storedash_agent_requests_total",
		Help: "Total number of requests sent to backend agents",
	}, []string{"agent", "outcome"})

	// OutboundDuration tracks latency of calls to backend agents.
	OutboundDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storedash_agent_request_duration_seconds",
		Help:    "Duration of requests sent to backend agents",
		Buckets: prometheus.DefBuckets,
	}, []string{"agent"})

	// AgentUp is 1 when the last health check of the agent succeeded.
	AgentUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storedash_agent_up",
		Help: "Whether the agent answered its last health check (1=online, 0=offline)",
	}, []string{"agent"})

	// AgentsOnline is the number of online agents in the latest snapshot.
	AgentsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storedash_agents_online",
		Help: "Number of agents online in the latest health snapshot",
	})

	// FallbackBatches counts event loads served from synthetic sample data.
	FallbackBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storedash_fallback_batches_total",
		Help: "Event loads that fell back to locally synthesized sample data",
	})

	// SessionTeardowns counts sessions dropped, by reason (logout, auth_failure).
	SessionTeardowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storedash_session_teardowns_total",
		Help: "Sessions cleared, by reason",
	}, []string{"reason"})
)
