package inference

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// chunkLatency observes the wall-clock gap between successive chunks of
// one streamed generation, surfacing upstream stalls the way the
// teacher's beacon interval and evasive timers surface a stalled peer.
var chunkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "llmesh",
	Subsystem: "inference",
	Name:      "chunk_latency_seconds",
	Help:      "Time between successive streamed chunks of one generation.",
	Buckets:   prometheus.DefBuckets,
})

var runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "llmesh",
	Subsystem: "inference",
	Name:      "runs_total",
	Help:      "Completed Proxy.Run invocations, labeled by outcome (complete, errored).",
}, []string{"outcome"})
