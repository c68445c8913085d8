// Package metrics registers the relay's Prometheus instrumentation
// (SPEC_FULL.md §4: one counter/gauge/histogram per component boundary —
// ingress, fan-out, and IRC session state).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngressRequestsTotal counts RPC ingress calls by repo id and outcome
	// ("accepted", "rejected_auth", "rejected_args", "rejected_slowdown").
	IngressRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kgb",
		Subsystem: "ingress",
		Name:      "requests_total",
		Help:      "Total RPC ingress calls by repository and outcome.",
	}, []string{"repo_id", "outcome"})

	// IngressQueueDepth reports how many commits are currently queued for
	// fan-out, to catch admission-control saturation before it trips.
	IngressQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kgb",
		Subsystem: "ingress",
		Name:      "queue_depth",
		Help:      "Number of commits queued for delivery.",
	})

	// FanoutDeliveriesTotal counts delivered messages by network/channel:
	// one per commit per channel, however many lines the message has.
	FanoutDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kgb",
		Subsystem: "fanout",
		Name:      "deliveries_total",
		Help:      "Total commit messages delivered to an IRC channel.",
	}, []string{"network", "channel"})

	// FanoutDuplicatesSuppressedTotal counts commits suppressed by the
	// per-channel seen-set de-dup (spec.md §5 "Fan-out").
	FanoutDuplicatesSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kgb",
		Subsystem: "fanout",
		Name:      "duplicates_suppressed_total",
		Help:      "Total commits suppressed as duplicates by the per-channel seen-set.",
	}, []string{"network", "channel"})

	// SessionStateTransitionsTotal counts IRC session state-machine
	// transitions per network (spec.md §5 "Hub").
	SessionStateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kgb",
		Subsystem: "ircsession",
		Name:      "state_transitions_total",
		Help:      "Total IRC session state transitions by network and new state.",
	}, []string{"network", "state"})

	// SessionReconnectsTotal counts reconnect attempts per network.
	SessionReconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kgb",
		Subsystem: "ircsession",
		Name:      "reconnects_total",
		Help:      "Total reconnect attempts by network.",
	}, []string{"network"})
)
