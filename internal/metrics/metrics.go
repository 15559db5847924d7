package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoptrack_transitions_recorded_total",
		Help: "Total number of order status transitions successfully recorded.",
	})

	ProgressionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoptrack_progressions_started_total",
		Help: "Total number of scripted tracking progressions started.",
	})

	ProgressionsAbortedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoptrack_progressions_aborted_total",
		Help: "Total number of scripted progressions aborted before completion.",
	})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoptrack_events_published_total",
		Help: "Total number of events published to rooms, by event name.",
	},
		[]string{"event"},
	)

	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shoptrack_events_dropped_total",
		Help: "Total number of events dropped because a connection's send buffer was full.",
	})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoptrack_active_connections",
		Help: "Current number of registered websocket connections.",
	})

	PrivilegedConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shoptrack_privileged_connections",
		Help: "Current number of connected admin-dashboard clients.",
	})

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shoptrack_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)
)
