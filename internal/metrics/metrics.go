// Package metrics holds the process-wide Prometheus collectors. Exposed at
// GET /metrics by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsStarted counts patch runs accepted by the engine.
	RunsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchbay_runs_started_total",
		Help: "Patch runs started.",
	})

	// NodeErrors counts node_error events across all runs.
	NodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchbay_node_errors_total",
		Help: "Node executions that ended in node_error.",
	})

	// GearProcessed counts gear ingress processing attempts by result.
	GearProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patchbay_gear_processed_total",
		Help: "Gear processing attempts.",
	}, []string{"result"})

	// ForwardFailures counts fan-out POSTs that failed.
	ForwardFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patchbay_forward_failures_total",
		Help: "Downstream forwarding POSTs that failed.",
	})

	// StatusSubscribers tracks currently connected status-stream clients.
	StatusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "patchbay_status_subscribers",
		Help: "Connected status SSE subscribers.",
	})
)
