// Package metrics holds the agent's process-wide Prometheus collectors.
// These are cumulative and independent of the periodic log flush performed
// by the reporter, which resets its own local counters only.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "skywalking_agent"

var (
	SegmentsUplinked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_uplinked_total",
			Help:      "Segments acknowledged by the collector within the completion timeout.",
		},
	)
	SegmentsAbandoned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_abandoned_total",
			Help:      "Segments dropped because no collector channel was available.",
		},
	)
	TransformErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Segments skipped because serialization to wire form failed.",
		},
	)
	QueueRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejections_total",
			Help:      "Submissions rejected by a full queue channel.",
		},
	)
	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_reconnects_total",
			Help:      "Collector channel rebuilds triggered by reported transport errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SegmentsUplinked,
		SegmentsAbandoned,
		TransformErrors,
		QueueRejections,
		Reconnects,
	)
}
