package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame-dispatch and request counters, grounded on the ambient-stack rule
// that observability is additive rather than a Non-goal (spec.md §9):
// these are process-wide, matching promauto's usual package-level
// registration, since a process only ever runs one Router.
var (
	framesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmesh",
		Subsystem: "router",
		Name:      "frames_handled_total",
		Help:      "Frames dispatched by HandleFrame, labeled by frame tag.",
	}, []string{"tag"})

	requestsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "llmesh",
		Subsystem: "router",
		Name:      "requests_active",
		Help:      "Requests currently tracked as pending or streaming.",
	})

	gossipForwards = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llmesh",
		Subsystem: "router",
		Name:      "gossip_forwards_total",
		Help:      "Query frames gossip-forwarded, labeled by outcome (sent, suppressed, declined).",
	}, []string{"outcome"})
)
